package oracle

import "context"

// Client implements Oracle over any CompleteFunc transport.
type Client struct {
	complete CompleteFunc
}

// NewClient wraps a completion transport in the typed oracle surface.
func NewClient(complete CompleteFunc) *Client {
	return &Client{complete: complete}
}

// ExtractTopics segments a conversation window into topics and memories.
func (c *Client) ExtractTopics(ctx context.Context, req ExtractionRequest) (*ExtractionResponse, error) {
	raw, err := c.complete(ctx, ExtractionPrompt(req.Messages))
	if err != nil {
		return nil, err
	}

	return ParseExtractionResponse(raw)
}

// DedupMemories asks for consolidation instructions over one batch.
func (c *Client) DedupMemories(ctx context.Context, req DedupRequest) (*DedupResponse, error) {
	raw, err := c.complete(ctx, DedupPrompt(req.Memories))
	if err != nil {
		return nil, err
	}

	return ParseDedupResponse(raw)
}

// JudgeTopicMerge asks whether two topic names describe the same subject.
func (c *Client) JudgeTopicMerge(ctx context.Context, req MergeRequest) (*MergeResponse, error) {
	raw, err := c.complete(ctx, MergePrompt(req.NameA, req.NameB))
	if err != nil {
		return nil, err
	}

	return ParseMergeResponse(raw)
}

var _ Oracle = (*Client)(nil)
