package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// collectionItemsPageSize is the page size used when listing collection
// items; the server caps responses, so listing paginates until total.
const collectionItemsPageSize = 100

// GetCollectionsTree fetches the collection forest. When archived is true,
// archived collections are included.
func (c *Client) GetCollectionsTree(ctx context.Context, archived bool) ([]map[string]interface{}, error) {
	q := url.Values{}
	if archived {
		q.Set("exclude-archived", "false")
	} else {
		q.Set("exclude-archived", "true")
	}
	var tree []map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/collection/tree", q, nil, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// GetCollectionItems lists the items of one collection, following pagination
// until the reported total is reached. collectionID is a numeric id or the
// literal "root".
func (c *Client) GetCollectionItems(ctx context.Context, collectionID string, models []string, archived bool) ([]map[string]interface{}, error) {
	var items []map[string]interface{}
	offset := 0
	for {
		q := url.Values{}
		for _, m := range models {
			q.Add("models", m)
		}
		q.Set("archived", strconv.FormatBool(archived))
		q.Set("limit", strconv.Itoa(collectionItemsPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page struct {
			Data  []map[string]interface{} `json:"data"`
			Total int                      `json:"total"`
		}
		path := fmt.Sprintf("/api/collection/%s/items", collectionID)
		if err := c.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Data...)
		offset += len(page.Data)
		if len(page.Data) == 0 || offset >= page.Total {
			return items, nil
		}
	}
}

// GetCard fetches a full card payload.
func (c *Client) GetCard(ctx context.Context, id int) (map[string]interface{}, error) {
	var card map[string]interface{}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/card/%d", id), nil, nil, &card); err != nil {
		return nil, err
	}
	return card, nil
}

// GetDashboard fetches a full dashboard payload including its panels.
func (c *Client) GetDashboard(ctx context.Context, id int) (map[string]interface{}, error) {
	var dash map[string]interface{}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/dashboard/%d", id), nil, nil, &dash); err != nil {
		return nil, err
	}
	return dash, nil
}

// GetDatabases lists databases. Newer servers wrap the list in {"data": [...]};
// older ones return a bare array.
func (c *Client) GetDatabases(ctx context.Context) ([]map[string]interface{}, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/database", nil, nil, &raw); err != nil {
		return nil, err
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unexpected database list shape: %w", err)
	}
	return wrapped.Data, nil
}

// GetDatabaseMetadata fetches one database's tables and fields.
func (c *Client) GetDatabaseMetadata(ctx context.Context, id int) (map[string]interface{}, error) {
	var meta map[string]interface{}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/database/%d/metadata", id), nil, nil, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// CreateCard creates a card; the response carries the server-assigned id.
func (c *Client) CreateCard(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPost, "/api/card", nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCard updates an existing card in place.
func (c *Client) UpdateCard(ctx context.Context, id int, payload map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/card/%d", id), nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDashboard creates a dashboard shell.
func (c *Client) CreateDashboard(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPost, "/api/dashboard", nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateDashboard updates a dashboard; panels are attached through this call.
func (c *Client) UpdateDashboard(ctx context.Context, id int, payload map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/dashboard/%d", id), nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCollection creates a collection.
func (c *Client) CreateCollection(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPost, "/api/collection", nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCollection updates a collection.
func (c *Client) UpdateCollection(ctx context.Context, id int, payload map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/collection/%d", id), nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPermissionGroups lists permission groups.
func (c *Client) GetPermissionGroups(ctx context.Context) ([]map[string]interface{}, error) {
	var groups []map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/permissions/group", nil, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetPermissionsGraph fetches the data-permissions graph verbatim.
func (c *Client) GetPermissionsGraph(ctx context.Context) (map[string]interface{}, error) {
	var graph map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/permissions/graph", nil, nil, &graph); err != nil {
		return nil, err
	}
	return graph, nil
}

// PutPermissionsGraph submits the data-permissions graph.
func (c *Client) PutPermissionsGraph(ctx context.Context, graph map[string]interface{}) error {
	return c.do(ctx, http.MethodPut, "/api/permissions/graph", nil, graph, nil)
}

// GetCollectionPermissionsGraph fetches the collection-permissions graph.
func (c *Client) GetCollectionPermissionsGraph(ctx context.Context) (map[string]interface{}, error) {
	var graph map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/collection/graph", nil, nil, &graph); err != nil {
		return nil, err
	}
	return graph, nil
}

// PutCollectionPermissionsGraph submits the collection-permissions graph.
func (c *Client) PutCollectionPermissionsGraph(ctx context.Context, graph map[string]interface{}) error {
	return c.do(ctx, http.MethodPut, "/api/collection/graph", nil, graph, nil)
}

// CollectionIDString renders a collection id for item listing, where the
// root collection is addressed as the literal "root".
func CollectionIDString(id *int) string {
	if id == nil {
		return "root"
	}
	return strconv.Itoa(*id)
}

// IsNotFound reports whether err is a 404 API error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
