package lexical

import (
	"context"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// Disabled accepts writes and fails every search with Unavailable, which
// hybrid search treats as "no lexical stream".
type Disabled struct{}

var _ ports.LexicalIndex = Disabled{}

func (Disabled) Index(context.Context, string, map[string]string) error { return nil }
func (Disabled) Delete(context.Context, string, []string) error { return nil }
func (Disabled) DropCollection(context.Context, string) error { return nil }
func (Disabled) Close() error { return nil }

func (Disabled) Search(context.Context, string, string, int) ([]ports.LexicalHit, error) {
	return nil, amerrors.Unavailable("lexical index is disabled")
}
