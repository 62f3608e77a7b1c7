package inference

import (
	"fmt"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/tokenizer"
)

// ResolveEOS looks up the end-of-sequence id for v in the tokenizer's
// vocabulary, including added tokens. A missing entry is an ErrConfig error.
func ResolveEOS(tok tokenizer.Tokenizer, v chat.Variant) (id int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = tokenizerError("vocabulary", fmt.Errorf("panic in Vocabulary: %v", rec))
		}
	}()
	token := v.EOSToken()
	id, ok := tokenizer.LookupToken(tok, token)
	if !ok {
		return 0, configError("resolve eos", fmt.Errorf("token %q not in vocabulary for %s variant", token, v))
	}
	return id, nil
}
