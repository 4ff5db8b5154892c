package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// NopPlatform has no notification support.
type NopPlatform struct{}

func (NopPlatform) Available() bool        { return false }
func (NopPlatform) Permission() Permission { return PermissionDenied }
func (NopPlatform) RequestPermission(context.Context) (Permission, error) {
	return PermissionDenied, nil
}
func (NopPlatform) Show(Notification) error { return nil }

// LogPlatform writes notifications to a logger. It is always permitted.
type LogPlatform struct {
	Logger zerolog.Logger
}

func (LogPlatform) Available() bool        { return true }
func (LogPlatform) Permission() Permission { return PermissionGranted }
func (LogPlatform) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (p LogPlatform) Show(n Notification) error {
	p.Logger.Info().Str("title", n.Title).Str("prompt_id", n.Tag).Msg(n.Body)
	return nil
}

// TerminalPlatform rings the bell and prints a line. Permission starts undecided and
// is granted on request only when the output is an interactive terminal.
type TerminalPlatform struct {
	w          io.Writer
	isTerminal func() bool

	mu         sync.Mutex
	permission Permission
}

func NewTerminalPlatform(f *os.File) *TerminalPlatform {
	return &TerminalPlatform{
		w:          f,
		isTerminal: func() bool { return term.IsTerminal(int(f.Fd())) },
		permission: PermissionDefault,
	}
}

func (p *TerminalPlatform) Available() bool { return p.w != nil }

func (p *TerminalPlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

func (p *TerminalPlatform) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return p.Permission(), err
	}
	perm := PermissionDenied
	if p.isTerminal() {
		perm = PermissionGranted
	}
	p.mu.Lock()
	p.permission = perm
	p.mu.Unlock()
	return perm, nil
}

func (p *TerminalPlatform) Show(n Notification) error {
	_, err := fmt.Fprintf(p.w, "\a%s %s\n", n.Title, n.Body)
	return err
}
