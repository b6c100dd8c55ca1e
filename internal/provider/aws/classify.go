package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	comprehendtypes "github.com/aws/aws-sdk-go-v2/service/comprehend/types"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// MaxBatchSize is the Comprehend per-request document ceiling.
func (p *Provider) MaxBatchSize() int {
	return comprehendBatchLimit
}

// ClassifyBatch detects the sentiment of up to MaxBatchSize texts. Comprehend
// indexes results by position within the request, which is mapped back to
// each request's Index. Items Comprehend rejects come back as failed results.
func (p *Provider) ClassifyBatch(ctx context.Context, language string, reqs []resource.ClassificationRequest) ([]resource.ClassificationResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) > comprehendBatchLimit {
		return nil, fmt.Errorf("batch detect sentiment: %d texts exceeds limit of %d", len(reqs), comprehendBatchLimit)
	}
	if language == "" {
		language = string(comprehendtypes.LanguageCodeEn)
	}

	texts := make([]string, len(reqs))
	for i, r := range reqs {
		texts[i] = r.Text
	}

	output, err := p.comprehendClient.BatchDetectSentiment(ctx, &comprehend.BatchDetectSentimentInput{
		TextList:     texts,
		LanguageCode: comprehendtypes.LanguageCode(language),
	})
	if err != nil {
		return nil, fmt.Errorf("batch detect sentiment: %w", err)
	}

	results := make([]resource.ClassificationResult, 0, len(reqs))
	for _, item := range output.ResultList {
		pos := int(aws.ToInt32(item.Index))
		if pos < 0 || pos >= len(reqs) {
			continue
		}
		results = append(results, resource.ClassificationResult{
			Index:  reqs[pos].Index,
			Label:  strings.ToLower(string(item.Sentiment)),
			Scores: sentimentScores(item.SentimentScore),
			Text:   reqs[pos].Text,
		})
	}
	for _, item := range output.ErrorList {
		pos := int(aws.ToInt32(item.Index))
		if pos < 0 || pos >= len(reqs) {
			continue
		}
		itemErr := errors.New(aws.ToString(item.ErrorCode) + ": " + aws.ToString(item.ErrorMessage))
		results = append(results, resource.ClassificationResult{
			Index: reqs[pos].Index,
			Text:  reqs[pos].Text,
			Err:   itemErr,
			Error: itemErr.Error(),
		})
	}
	return results, nil
}

func sentimentScores(s *comprehendtypes.SentimentScore) map[string]float64 {
	if s == nil {
		return nil
	}
	return map[string]float64{
		"positive": float64(aws.ToFloat32(s.Positive)),
		"negative": float64(aws.ToFloat32(s.Negative)),
		"neutral":  float64(aws.ToFloat32(s.Neutral)),
		"mixed":    float64(aws.ToFloat32(s.Mixed)),
	}
}
