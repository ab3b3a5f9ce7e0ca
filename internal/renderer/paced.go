package renderer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Paced wraps a Renderer and rate-limits the interactions that trigger work on
// the remote side (navigation, clicks, typing, opening overlays). Reads pass
// through unthrottled.
type Paced struct {
	Renderer
	limiter *rate.Limiter
}

// NewPaced allows one interaction every interval with the given burst.
func NewPaced(r Renderer, interval time.Duration, burst int) *Paced {
	if burst < 1 {
		burst = 1
	}
	return &Paced{
		Renderer: r,
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
	}
}

func (p *Paced) wait(ctx context.Context, op string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("Paced.%s: %w", op, err)
	}
	return nil
}

func (p *Paced) Navigate(ctx context.Context, target string) error {
	if err := p.wait(ctx, "Navigate"); err != nil {
		return err
	}
	return p.Renderer.Navigate(ctx, target)
}

func (p *Paced) Click(ctx context.Context, h Handle) error {
	if err := p.wait(ctx, "Click"); err != nil {
		return err
	}
	return p.Renderer.Click(ctx, h)
}

func (p *Paced) FillText(ctx context.Context, h Handle, value string) error {
	if err := p.wait(ctx, "FillText"); err != nil {
		return err
	}
	return p.Renderer.FillText(ctx, h, value)
}

func (p *Paced) OpenDetail(ctx context.Context, row Handle) (Handle, error) {
	if err := p.wait(ctx, "OpenDetail"); err != nil {
		return nil, err
	}
	return p.Renderer.OpenDetail(ctx, row)
}

// Login forwards to the wrapped renderer when it can authenticate.
func (p *Paced) Login(ctx context.Context) error {
	auth, ok := p.Renderer.(Authenticator)
	if !ok {
		return fmt.Errorf("Paced.Login: renderer %T cannot log in", p.Renderer)
	}
	if err := p.wait(ctx, "Login"); err != nil {
		return err
	}
	return auth.Login(ctx)
}

var (
	_ Renderer      = (*Paced)(nil)
	_ Authenticator = (*Paced)(nil)
)
