package reauth

import (
	"context"
	"fmt"

	"github.com/schmitthub/credkeep/internal/iostreams"
)

// challengeTypePassword is the knowledge-factor challenge.
const challengeTypePassword = "PASSWORD"

// PasswordHandler answers PASSWORD challenges by prompting on the
// terminal without echo.
type PasswordHandler struct {
	IO *iostreams.IOStreams
}

// NewPasswordHandler creates a PasswordHandler on the given streams.
func NewPasswordHandler(ios *iostreams.IOStreams) *PasswordHandler {
	return &PasswordHandler{IO: ios}
}

func (h *PasswordHandler) ChallengeType() string { return challengeTypePassword }

// Handle prompts for the account password. An empty response or a
// non-promptable terminal aborts the challenge.
func (h *PasswordHandler) Handle(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !h.IO.CanPrompt() {
		return nil, fmt.Errorf("%w: cannot prompt for password", ErrUserAborted)
	}

	prompt := "Please enter your password: "
	if p, ok := params["promptText"].(string); ok && p != "" {
		prompt = p + ": "
	}
	fmt.Fprint(h.IO.ErrOut, prompt)

	password, err := h.IO.ReadSecret()
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if password == "" {
		return nil, ErrUserAborted
	}
	return map[string]any{"credential": password}, nil
}

// HandlerFunc adapts a function to ChallengeHandler, for tests and
// embedders that register their own challenge UI.
type HandlerFunc struct {
	Type string
	Func func(ctx context.Context, params map[string]any) (map[string]any, error)
}

func (h HandlerFunc) ChallengeType() string { return h.Type }

func (h HandlerFunc) Handle(ctx context.Context, params map[string]any) (map[string]any, error) {
	return h.Func(ctx, params)
}
