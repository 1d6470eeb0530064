package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when embedding dimensions don't match collection dimensions
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d; check the embedding model or recreate the collection",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
}

// CollectionInfo holds basic information about a Qdrant collection
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

// CollectionInfo fetches collection metadata.
func (c *Client) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, c.collectionURL(collection), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}

// EnsureCollection creates collection with cosine distance if it is
// missing, and checks its vector size otherwise.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dim int) error {
	info, err := c.CollectionInfo(ctx, collection)
	if err == nil {
		if dim > 0 && info.VectorSize != dim {
			return DimensionMismatchError{Collection: collection, ExpectedDimension: dim, ReceivedDimension: info.VectorSize}
		}
		return nil
	}
	if !errors.Is(err, ErrCollectionNotFound) {
		return err
	}

	body := map[string]any{"vectors": map[string]any{"size": dim, "distance": "Cosine"}}
	resp, err := c.do(ctx, http.MethodPut, c.collectionURL(collection), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant create collection status %d", resp.StatusCode)
	}
	c.log.Info("Created collection", zap.String("collection", collection), zap.Int("dimension", dim))
	return nil
}

// ValidateDimension checks collection against ExpectedEmbeddingDim.
func (c *Client) ValidateDimension(ctx context.Context, collection string) error {
	if c.cfg.ExpectedEmbeddingDim <= 0 {
		return nil
	}
	info, err := c.CollectionInfo(ctx, collection)
	if err != nil {
		return err
	}
	if info.VectorSize != c.cfg.ExpectedEmbeddingDim {
		return DimensionMismatchError{Collection: collection, ExpectedDimension: c.cfg.ExpectedEmbeddingDim, ReceivedDimension: info.VectorSize}
	}
	return nil
}
