package agents

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
)

// ClaimsFunc adapts the model to the policy engine's optional claim
// extraction path. Errors surface to the engine, which falls back to its
// deterministic extractor.
func ClaimsFunc(client llm.Client, pack *prompts.Pack) func(ctx context.Context, tweets []string) ([]string, error) {
	return func(ctx context.Context, tweets []string) ([]string, error) {
		prompt := fmt.Sprintf(pack.Get("claims", promptClaims), jsonList(tweets))
		raw, err := chatJSON(ctx, client, prompt)
		if err != nil {
			return nil, err
		}
		var out struct {
			Claims []string `json:"claims"`
		}
		if err := llm.DecodeValidated(llm.SchemaClaims, raw, &out); err != nil {
			return nil, err
		}
		return out.Claims, nil
	}
}
