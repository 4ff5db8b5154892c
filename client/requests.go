package client

import (
	"context"
	"encoding/json"
	"fmt"
)

/*
ViewComfy app:
@routes.post("/api/comfy")
@routes.get("/api/playground")

ComfyUI:
@routes.get("/object_info/{node_class}")
*/

// GetViewComfy fetches the workflows the app serves.
func (c *Client) GetViewComfy(ctx context.Context) (*ViewComfyDocument, error) {
	var body struct {
		ViewComfyJSON *ViewComfyDocument `json:"viewComfyJSON"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/playground", true, &body); err != nil {
		return nil, err
	}
	if body.ViewComfyJSON == nil {
		return &ViewComfyDocument{}, nil
	}
	return body.ViewComfyJSON, nil
}

// GetCheckpoints lists the checkpoint names the ComfyUI server can load. Missing
// pieces in the node description yield an empty list.
func (c *Client) GetCheckpoints(ctx context.Context) ([]string, error) {
	object_infos := make(map[string]struct {
		Input struct {
			Required map[string]json.RawMessage `json:"required"`
		} `json:"input"`
	})
	url := fmt.Sprintf("%s/object_info/CheckpointLoaderSimple", c.comfyBaseURL)
	if err := c.getJSON(ctx, url, false, &object_infos); err != nil {
		return nil, err
	}

	retv := make([]string, 0)
	node, ok := object_infos["CheckpointLoaderSimple"]
	if !ok {
		return retv, nil
	}
	raw, ok := node.Input.Required["ckpt_name"]
	if !ok {
		return retv, nil
	}

	// ckpt_name is [["a.safetensors", "b.ckpt"], {...}]
	var names []json.RawMessage
	if err := json.Unmarshal(raw, &names); err != nil || len(names) == 0 {
		return retv, nil
	}
	if err := json.Unmarshal(names[0], &retv); err != nil || retv == nil {
		return make([]string, 0), nil
	}
	return retv, nil
}
