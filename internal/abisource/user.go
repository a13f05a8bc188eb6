package abisource

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/sells-group/txlens/internal/resilience"
)

// UserSource serves an ABI supplied with the request.
type UserSource struct {
	raw string
}

// NewUserSource wraps a caller-supplied ABI JSON document. An empty string is
// allowed and always fails with no_user_abi.
func NewUserSource(raw string) *UserSource {
	return &UserSource{raw: strings.TrimSpace(raw)}
}

func (s *UserSource) ID() string { return SourceUser }

func (s *UserSource) Resolve(_ context.Context, t Target) (*Resolution, error) {
	if s.raw == "" {
		return nil, resilience.Failf(resilience.ReasonNoUserABI, "no ABI supplied")
	}
	parsed, err := abi.JSON(strings.NewReader(s.raw))
	if err != nil {
		return nil, resilience.Fail(resilience.ReasonInvalidABI, err)
	}
	if err := requireMethod(SourceUser, &parsed, t); err != nil {
		return nil, err
	}
	return newResolution(SourceUser, "", &parsed), nil
}
