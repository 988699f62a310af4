package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// envelope is the paginated list returned by the provider.
// Results are kept raw so one malformed entry cannot fail the whole page.
type envelope struct {
	Count    int               `json:"count"`
	Next     *string           `json:"next"`
	Previous *string           `json:"previous"`
	Results  []json.RawMessage `json:"results"`
}

type wireLaunch struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	NET         string       `json:"net"`
	Status      *wireStatus  `json:"status"`
	Provider    *wireNamed   `json:"launch_service_provider"`
	Rocket      *wireRocket  `json:"rocket"`
	Mission     *wireMission `json:"mission"`
	Pad         *wirePad     `json:"pad"`
	Probability flexFloat    `json:"probability"`
	Image       wireImage    `json:"image"`
}

type wireNamed struct {
	Name string `json:"name"`
}

type wireStatus struct {
	Name   string `json:"name"`
	Abbrev string `json:"abbrev"`
}

type wireRocket struct {
	Configuration *struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"configuration"`
}

type wireMission struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type wirePad struct {
	Name      string     `json:"name"`
	Latitude  flexFloat  `json:"latitude"`
	Longitude flexFloat  `json:"longitude"`
	Location  *wireNamed `json:"location"`
}

// flexFloat accepts a JSON number or a numeric string. Anything else leaves
// it unset rather than failing the enclosing object.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f.Value, f.Valid = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	f.Value, f.Valid = v, true
	return nil
}

// wireImage is either a bare URL string or an object with image_url,
// depending on the provider API version.
type wireImage struct {
	URL string
}

func (w *wireImage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &w.URL)
	}
	var obj struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	w.URL = obj.ImageURL
	return nil
}
