package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/voice-render/internal/core"
)

// DenylistScreen rejects requests whose target identity is on a configured
// list of identities that must not be cloned.
type DenylistScreen struct {
	blocked map[string]struct{}
}

// NewDenylistScreen builds a screen from identity names. Matching ignores
// case and surrounding whitespace.
func NewDenylistScreen(identities []string) *DenylistScreen {
	blocked := make(map[string]struct{}, len(identities))

	for _, identity := range identities {
		normalized := normalizeIdentity(identity)
		if normalized != "" {
			blocked[normalized] = struct{}{}
		}
	}

	return &DenylistScreen{blocked: blocked}
}

// Screen implements core.ContentScreen.
func (s *DenylistScreen) Screen(ctx context.Context, request core.ScreenRequest) error {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return fmt.Errorf("screen interrupted: %w", ctxErr)
	}

	if _, found := s.blocked[normalizeIdentity(request.TargetIdentity)]; found {
		return fmt.Errorf("%w: cloning %q is not permitted", core.ErrBlockedContent, request.TargetIdentity)
	}

	return nil
}

// Evaluate runs screen and folds every failure into ErrBlockedContent, so a
// check that cannot be evaluated rejects the request. A nil screen rejects.
func Evaluate(ctx context.Context, screen core.ContentScreen, request core.ScreenRequest) error {
	if screen == nil {
		return fmt.Errorf("%w: no content screen is configured", core.ErrBlockedContent)
	}

	err := screen.Screen(ctx, request)
	if err == nil {
		return nil
	}

	if errors.Is(err, core.ErrBlockedContent) {
		return err
	}

	return fmt.Errorf("%w: content screen could not be evaluated: %w", core.ErrBlockedContent, err)
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
