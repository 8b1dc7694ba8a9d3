package chatapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// KnowledgeRequest describes a new knowledge collection.
type KnowledgeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateKnowledge creates a knowledge collection and returns its id. Older
// backends only expose the collection root, so a 404 or 405 from the
// create route falls back to it.
func (c *Client) CreateKnowledge(ctx context.Context, req KnowledgeRequest) (string, error) {
	data, err := c.doJSON(ctx, http.MethodPost, "/api/v1/knowledge/create", req)
	var remote *RemoteError
	if errors.As(err, &remote) && (remote.StatusCode == http.StatusNotFound || remote.StatusCode == http.StatusMethodNotAllowed) {
		log.Debug().Int("status", remote.StatusCode).Msg("Knowledge create route unavailable, using collection root")
		data, err = c.doJSON(ctx, http.MethodPost, "/api/v1/knowledge", req)
	}
	if err != nil {
		return "", err
	}

	var resp map[string]interface{}
	if err := decode(data, &resp); err != nil {
		return "", err
	}
	fields := []string{"id", "_id", "knowledge_id", "data.id"}
	id := firstString(resp, fields...)
	if id == "" {
		return "", &ExtractionError{Op: "create knowledge", Fields: fields}
	}
	return id, nil
}

// AttachFile adds an uploaded file to a knowledge collection.
func (c *Client) AttachFile(ctx context.Context, knowledgeID, fileID string) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/v1/knowledge/"+url.PathEscape(knowledgeID)+"/file/add",
		map[string]string{"file_id": fileID})
	return err
}
