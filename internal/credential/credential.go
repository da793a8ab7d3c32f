// Package credential provides the two ways the workbench obtains an API key:
// a host-managed key from configuration and a key entered by the user.
package credential

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Static serves a host-managed key. Once invalidated it stays unavailable
// until the host sets a new key.
type Static struct {
	mu      sync.RWMutex
	key     string
	invalid bool
}

// NewStatic creates a provider for key.
func NewStatic(key string) *Static {
	return &Static{key: strings.TrimSpace(key)}
}

func (s *Static) HasCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != "" && !s.invalid
}

func (s *Static) RequestCredential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.key == "" || s.invalid {
		return "", domain.InvalidCredentialError("no valid API key is configured", nil)
	}
	return s.key, nil
}

func (s *Static) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid = true
}

// Set replaces the key and clears any invalidation.
func (s *Static) Set(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = strings.TrimSpace(key)
	s.invalid = false
}

// Prompt asks the user for a key the first time one is needed and keeps it
// for the session. Invalidation forgets the key so the next request asks again.
type Prompt struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	key    string
	prompt string
}

// NewPrompt creates a provider reading keys from in and writing the prompt to out.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{
		in:     bufio.NewReader(in),
		out:    out,
		prompt: "Enter your API key: ",
	}
}

func (p *Prompt) HasCredential() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key != ""
}

func (p *Prompt) RequestCredential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != "" {
		return p.key, nil
	}

	if p.out != nil {
		fmt.Fprint(p.out, p.prompt)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", domain.InvalidCredentialError("no API key entered", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", domain.InvalidCredentialError("no API key entered", nil)
	}
	p.key = key
	return key, nil
}

func (p *Prompt) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = ""
}

// Set stores a key entered through another channel.
func (p *Prompt) Set(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = strings.TrimSpace(key)
}
