package vod

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go_vod/internal/engine"
)

// apiResponse is the collection-API envelope shared by search and detail.
type apiResponse struct {
	List      []apiItem `json:"list"`
	PageCount flexInt   `json:"pagecount"`
}

type apiItem struct {
	ID       flexString `json:"vod_id"`
	Name     flexString `json:"vod_name"`
	Pic      flexString `json:"vod_pic"`
	PlayURL  flexString `json:"vod_play_url"`
	PlayFrom flexString `json:"vod_play_from"`
	Class    flexString `json:"vod_class"`
	Year     flexString `json:"vod_year"`
	Content  flexString `json:"vod_content"`
	DoubanID flexInt    `json:"vod_douban_id"`
	TypeName flexString `json:"type_name"`
}

// flexString accepts a JSON string or number; anything else decodes to "".
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			*s = ""
			return nil
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*s = flexString(n.String())
		return nil
	}
	*s = ""
	return nil
}

// flexInt accepts a JSON number or numeric string; anything else decodes to 0.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	*n = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		raw = strings.TrimSpace(v)
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*n = flexInt(v)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*n = flexInt(int64(f))
	}
	return nil
}

// decodeResponse decodes a provider body. A body that is not the expected
// shape yields an empty response.
func decodeResponse(resp *engine.Response) apiResponse {
	var out apiResponse
	if err := resp.JSON(&out); err != nil {
		slog.Debug("vod: undecodable provider payload", slog.String("url", resp.URL), slog.Any("error", err))
		return apiResponse{}
	}
	return out
}

// toResult maps a search item. Links are not validated on this path.
func (it apiItem) toResult(p ProviderConfig) Result {
	r := Result{
		ID:          string(it.ID),
		Title:       normalizeTitle(string(it.Name)),
		Poster:      string(it.Pic),
		Source:      p.Key,
		SourceName:  p.Name,
		Class:       string(it.Class),
		Year:        ExtractYear(string(it.Year)),
		Description: CleanDescription(string(it.Content)),
		TypeName:    string(it.TypeName),
		DoubanID:    int64(it.DoubanID),
	}
	return r.WithPlaySources(ExtractPlaySources(string(it.PlayURL), string(it.PlayFrom), false))
}
