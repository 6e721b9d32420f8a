package utils

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeIndex is the subset of *pinecone.IndexConnection used here.
type PineconeIndex interface {
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
}

// PineconeMatch is one query hit with its decoded metadata.
type PineconeMatch struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
}

func GetPineconeIndex(ctx context.Context, apiKey, indexName, namespace string) (*pinecone.IndexConnection, error) {
	if indexName == "" {
		return nil, fmt.Errorf("pinecone index name is not set")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("pinecone API key is not set")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	idx, err := client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %q: %w", indexName, err)
	}

	idxConnection, err := client.Index(pinecone.NewIndexConnParams{Host: idx.Host, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("failed to create IndexConnection for Host %v: %w", idx.Host, err)
	}

	return idxConnection, nil
}

// QueryPinecone returns up to topK matches for embedding. filter may be nil.
func QueryPinecone(ctx context.Context, index PineconeIndex, embedding []float32, topK int, filter map[string]interface{}) ([]PineconeMatch, error) {
	queryRequest := &pinecone.QueryByVectorValuesRequest{
		Vector:          embedding,
		TopK:            uint32(topK),
		IncludeValues:   false,
		IncludeMetadata: true,
	}
	if len(filter) > 0 {
		f, err := structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid metadata filter: %w", err)
		}
		queryRequest.MetadataFilter = f
	}

	queryResponse, err := index.QueryByVectorValues(ctx, queryRequest)
	if err != nil {
		return nil, fmt.Errorf("error querying Pinecone index: %w", err)
	}

	var matches []PineconeMatch
	for _, match := range queryResponse.Matches {
		if match == nil || match.Vector == nil || match.Vector.Metadata == nil {
			continue
		}
		matches = append(matches, PineconeMatch{
			ID:       match.Vector.Id,
			Score:    match.Score,
			Metadata: match.Vector.Metadata.AsMap(),
		})
	}

	return matches, nil
}

func UpsertToPinecone(ctx context.Context, index PineconeIndex, id string, embedding []float32, metadata map[string]interface{}) error {
	md, err := structpb.NewStruct(metadata)
	if err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}

	_, err = index.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   embedding,
		Metadata: md,
	}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", id, err)
	}
	return nil
}
