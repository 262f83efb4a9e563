package providers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/smithy-go"

	"github.com/allyrun/ally/internal/agent"
)

// discoveryTimeout bounds the control-plane call so Models() never hangs a
// CLI listing on a slow or unreachable AWS endpoint.
const discoveryTimeout = 5 * time.Second

// DiscoverModels lists the text-output foundation models the account can
// actually invoke in this region, replacing the static catalog when the
// control plane is reachable. Access-denied and missing-permission errors
// are reported so callers can fall back to the static list quietly.
func (p *BedrockProvider) DiscoverModels(ctx context.Context, awsCfg aws.Config) ([]agent.Model, error) {
	client := awsbedrock.NewFromConfig(awsCfg)

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	out, err := client.ListFoundationModels(ctx, &awsbedrock.ListFoundationModelsInput{
		ByOutputModality: bedrocktypes.ModelModalityText,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, errors.New("bedrock model discovery: " + apiErr.ErrorCode() + ": " + apiErr.ErrorMessage())
		}
		return nil, err
	}

	models := make([]agent.Model, 0, len(out.ModelSummaries))
	for _, summary := range out.ModelSummaries {
		id := aws.ToString(summary.ModelId)
		if id == "" {
			continue
		}
		name := aws.ToString(summary.ModelName)
		if name == "" {
			name = id
		}
		vision := false
		for _, modality := range summary.InputModalities {
			if modality == bedrocktypes.ModelModalityImage {
				vision = true
			}
		}
		models = append(models, agent.Model{
			ID:             id,
			Name:           name + " (Bedrock)",
			SupportsVision: vision,
		})
	}
	sort.Slice(models, func(i, j int) bool { return strings.Compare(models[i].ID, models[j].ID) < 0 })
	return models, nil
}
