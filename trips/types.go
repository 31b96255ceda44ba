package trips

import (
	"encoding/json"
	"io"
	"strconv"
)

// Envelope is the backend's standard response wrapper.
type Envelope[T any] struct {
	Succeeded *bool  `json:"succeeded,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      T      `json:"data"`
}

// OK is false only when the backend explicitly reported failure.
func (e Envelope[T]) OK() bool { return e.Succeeded == nil || *e.Succeeded }

// Page is one page of a paginated listing.
type Page[T any] struct {
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize,omitempty"`
	Count      int `json:"count"`
	Data       []T `json:"data"`
}

type Summary struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price"`
	Duration    int     `json:"duration"`
	IsAvailable bool    `json:"isAvailable"`
}

type ImageRef struct {
	ID       int    `json:"id"`
	ImageURL string `json:"imageURL"`
}

// Detail is a single trip. Fields the console does not interpret stay in Raw.
type Detail struct {
	ID          int             `json:"id"`
	Name        string          `json:"name,omitempty"`
	Price       float64         `json:"price"`
	Duration    int             `json:"duration"`
	IsAvailable bool            `json:"isAvailable"`
	CategoryID  int             `json:"categoryId,omitempty"`
	TripDates   []string        `json:"tripDates,omitempty"`
	MainImage   *ImageRef       `json:"mainImage,omitempty"`
	Images      []ImageRef      `json:"images,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

func (d *Detail) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	type plain Detail
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = Detail(p)
	d.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type Translation struct {
	LanguageID  int    `json:"languageId"`
	Translation string `json:"translation"`
}

// NewTrip is the body of AddTrip.
type NewTrip struct {
	Name        []Translation `json:"Name"`
	Description []Translation `json:"Description"`
	Price       float64       `json:"Price"`
	Duration    int           `json:"Duration"`
	TripDates   []string      `json:"TripDates"`
	IsAvailable bool          `json:"IsAvailable"`
	CategoryID  int           `json:"CategoryId"`
	Activities  []int         `json:"Activities"`
	Languages   []int         `json:"Languages"`
	Includes    []int         `json:"Includes"`
	NotIncludes []int         `json:"NotIncludes"`
}

type TripTranslation struct {
	LanguageID  int    `json:"languageId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TripUpdate is the body of UpdateTrip.
type TripUpdate struct {
	TripTranslations []TripTranslation `json:"tripTranslations"`
	Duration         int               `json:"duration"`
	Price            float64           `json:"price"`
	IsAvailable      bool              `json:"isAvailable"`
	TripDates        []string          `json:"tripDates"`
	CategoryID       int               `json:"categoryId"`
	Activities       []int             `json:"activities"`
	Languages        []int             `json:"languages"`
	Includes         []int             `json:"includes"`
	NotIncludes      []int             `json:"notIncludes"`
}

type Review struct {
	UserID    *int    `json:"userId,omitempty"`
	UserName  string  `json:"userName,omitempty"`
	Rating    float64 `json:"rating"`
	Comment   string  `json:"comment,omitempty"`
	CreatedAt string  `json:"createdAt,omitempty"`
}

// Option is a lookup entry (language, activity, category, include).
type Option struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Image is one file for AddImages.
type Image struct {
	FileName string
	Content  io.Reader
	IsMain   bool
}

// ListParams filters GetAllTrips. Nil tri-state flags are omitted.
type ListParams struct {
	PageNumber            int
	PageSize              int
	Search                string
	TranslationLanguageID int
	Sort                  string
	IsAvailable           *bool
	IsTopRated            *bool
	IsBestSeller          *bool
}

func (p ListParams) query() map[string]string {
	q := map[string]string{}
	if p.PageNumber > 0 {
		q["pageNumber"] = strconv.Itoa(p.PageNumber)
	}
	if p.PageSize > 0 {
		q["pageSize"] = strconv.Itoa(p.PageSize)
	}
	if p.Search != "" {
		q["Search"] = p.Search
	}
	if p.TranslationLanguageID > 0 {
		q["TranslationLanguageId"] = strconv.Itoa(p.TranslationLanguageID)
	}
	if p.Sort != "" {
		q["Sort"] = p.Sort
	}
	setBool(q, "IsAvailable", p.IsAvailable)
	setBool(q, "IsTopRated", p.IsTopRated)
	setBool(q, "IsBestSeller", p.IsBestSeller)
	return q
}

func setBool(q map[string]string, key string, v *bool) {
	if v != nil {
		q[key] = strconv.FormatBool(*v)
	}
}
