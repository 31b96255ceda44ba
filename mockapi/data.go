package mockapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/adeilh/tripdesk/httpx"
	"github.com/adeilh/tripdesk/trips"
)

const maxUploadMemory = 32 << 20

type tripRecord struct {
	trips.Detail
	TripTranslations []trips.TripTranslation `json:"tripTranslations"`
	Activities       []int                   `json:"activities"`
	Languages        []int                   `json:"languages"`
	Includes         []int                   `json:"includes"`
	NotIncludes      []int                   `json:"notIncludes"`
}

type dataset struct {
	mu         sync.Mutex
	trips      map[int]*tripRecord
	reviews    map[int][]trips.Review
	languages  []trips.Option
	activities []trips.Option
	categories []trips.Option
	includes   []trips.Option
	nextTrip   int
	nextImage  int
}

func seed() *dataset {
	d := &dataset{
		trips:   map[int]*tripRecord{},
		reviews: map[int][]trips.Review{},
		languages: []trips.Option{
			{ID: 1, Name: "English"},
			{ID: 2, Name: "Arabic"},
		},
		activities: []trips.Option{
			{ID: 1, Name: "Snorkeling"},
			{ID: 2, Name: "Desert safari"},
		},
		categories: []trips.Option{
			{ID: 1, Name: "Sea"},
			{ID: 2, Name: "Desert"},
		},
		includes: []trips.Option{
			{ID: 1, Name: "Hotel pickup"},
			{ID: 2, Name: "Lunch"},
		},
		nextTrip:  1,
		nextImage: 1,
	}
	d.add(trips.NewTrip{
		Name:        []trips.Translation{{LanguageID: 1, Translation: "Giftun Island"}},
		Description: []trips.Translation{{LanguageID: 1, Translation: "Boat day with two reef stops"}},
		Price:       45,
		Duration:    8,
		IsAvailable: true,
		CategoryID:  1,
		TripDates:   []string{"2026-11-02"},
		Activities:  []int{1},
		Languages:   []int{1, 2},
		Includes:    []int{1, 2},
	})
	d.add(trips.NewTrip{
		Name:        []trips.Translation{{LanguageID: 1, Translation: "Quad Safari"}},
		Description: []trips.Translation{{LanguageID: 1, Translation: "Sunset ride into the desert"}},
		Price:       30,
		Duration:    4,
		CategoryID:  2,
		Activities:  []int{2},
		Languages:   []int{1},
		Includes:    []int{1},
	})
	one, two := 7, 9
	d.reviews[1] = []trips.Review{
		{UserID: &one, UserName: "mona", Rating: 5, Comment: "Great reef", CreatedAt: "2026-09-01T10:00:00Z"},
		{UserID: &two, UserName: "karim", Rating: 3, Comment: "Crowded boat", CreatedAt: "2026-09-12T08:30:00Z"},
	}
	return d
}

func (d *dataset) routes(api *httpx.Router) {
	api.GET("/Trip/GetAllTrips", d.listTrips).
		GET("/Trip/GetTripByIdForAdmin/:id", d.getTrip(true)).
		GET("/Trip/GetTripById/:id", d.getTrip(false)).
		POST("/Trip/AddTrip", d.addTrip).
		PUT("/Trip/UpdateTrip/:id", d.updateTrip).
		DELETE("/Trip/DeleteTrip/:id", d.deleteTrip).
		POST("/Trip/AddImagesToTrip/:id", d.addImages).
		DELETE("/Trip/DeleteImagesFromTrip/:id", d.deleteImages).
		GET("/Reviews/GetReviews", d.listReviews).
		DELETE("/Reviews/DeleteReview/:id", d.deleteReview).
		GET("/Language/GetAllLanguages", d.lookup(func() any { return d.languages })).
		GET("/Activity/GetAllActivities", d.lookup(func() any { return map[string]any{"data": d.activities} })).
		GET("/Category/GetAllCategories", d.lookup(func() any { return d.categories })).
		GET("/Includes/GetAllIncludes", d.lookup(func() any { return map[string]any{"data": d.includes} }))
}

// add must be called with mu held or before the dataset is shared.
func (d *dataset) add(in trips.NewTrip) int {
	id := d.nextTrip
	d.nextTrip++
	rec := &tripRecord{
		Detail: trips.Detail{
			ID:          id,
			Price:       in.Price,
			Duration:    in.Duration,
			IsAvailable: in.IsAvailable,
			CategoryID:  in.CategoryID,
			TripDates:   in.TripDates,
		},
		Activities:  in.Activities,
		Languages:   in.Languages,
		Includes:    in.Includes,
		NotIncludes: in.NotIncludes,
	}
	byLang := map[int]int{}
	for _, n := range in.Name {
		byLang[n.LanguageID] = len(rec.TripTranslations)
		rec.TripTranslations = append(rec.TripTranslations, trips.TripTranslation{LanguageID: n.LanguageID, Name: n.Translation})
	}
	for _, desc := range in.Description {
		if i, ok := byLang[desc.LanguageID]; ok {
			rec.TripTranslations[i].Description = desc.Translation
			continue
		}
		rec.TripTranslations = append(rec.TripTranslations, trips.TripTranslation{LanguageID: desc.LanguageID, Description: desc.Translation})
	}
	rec.rename()
	d.trips[id] = rec
	return id
}

func (r *tripRecord) rename() {
	r.Name = ""
	if len(r.TripTranslations) > 0 {
		r.Name = r.TripTranslations[0].Name
	}
}

func (d *dataset) categoryName(id int) string {
	for _, c := range d.categories {
		if c.ID == id {
			return c.Name
		}
	}
	return ""
}

func (d *dataset) listTrips(c httpx.Context) error {
	pageNumber := queryInt(c, "pageNumber", 1)
	pageSize := queryInt(c, "pageSize", 10)
	search := strings.ToLower(strings.TrimSpace(c.QueryParam("Search")))
	available := c.QueryParam("IsAvailable")

	d.mu.Lock()
	matched := make([]trips.Summary, 0, len(d.trips))
	for _, rec := range d.trips {
		if search != "" && !strings.Contains(strings.ToLower(rec.Name), search) {
			continue
		}
		if available != "" && strconv.FormatBool(rec.IsAvailable) != strings.ToLower(available) {
			continue
		}
		matched = append(matched, trips.Summary{
			ID:          rec.ID,
			Name:        rec.Name,
			Category:    d.categoryName(rec.CategoryID),
			Price:       rec.Price,
			Duration:    rec.Duration,
			IsAvailable: rec.IsAvailable,
		})
	}
	d.mu.Unlock()

	sortSummaries(matched, c.QueryParam("Sort"))
	page := trips.Page[trips.Summary]{PageNumber: pageNumber, PageSize: pageSize, Count: len(matched), Data: paginate(matched, pageNumber, pageSize)}
	return ok200(c, page)
}

func sortSummaries(list []trips.Summary, order string) {
	field, dir, _ := strings.Cut(strings.ToLower(order), ":")
	less := func(i, j int) bool { return list[i].ID < list[j].ID }
	switch field {
	case "price":
		less = func(i, j int) bool { return list[i].Price < list[j].Price }
	case "name":
		less = func(i, j int) bool { return list[i].Name < list[j].Name }
	}
	if dir == "desc" {
		sort.SliceStable(list, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(list, less)
}

func paginate[T any](list []T, pageNumber, pageSize int) []T {
	start := (pageNumber - 1) * pageSize
	if start >= len(list) {
		return []T{}
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

func (d *dataset) getTrip(admin bool) httpx.HandlerFunc {
	return func(c httpx.Context) error {
		id, err := pathID(c)
		if err != nil {
			return fail(c, httpx.StatusBadRequest, err.Error())
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		rec, ok := d.trips[id]
		if !ok {
			return fail(c, httpx.StatusNotFound, fmt.Sprintf("trip %d not found", id))
		}
		if admin {
			return ok200(c, rec)
		}
		return ok200(c, rec.Detail)
	}
}

func (d *dataset) addTrip(c httpx.Context) error {
	var in trips.NewTrip
	if err := decodeJSON(c, &in); err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	if len(in.Name) == 0 {
		return fail(c, httpx.StatusBadRequest, "trip name is required")
	}
	d.mu.Lock()
	id := d.add(in)
	d.mu.Unlock()
	return ok200(c, id)
}

func (d *dataset) updateTrip(c httpx.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	var in trips.TripUpdate
	if err := decodeJSON(c, &in); err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.trips[id]
	if !ok {
		return fail(c, httpx.StatusNotFound, fmt.Sprintf("trip %d not found", id))
	}
	rec.TripTranslations = in.TripTranslations
	rec.Duration = in.Duration
	rec.Price = in.Price
	rec.IsAvailable = in.IsAvailable
	rec.TripDates = in.TripDates
	rec.CategoryID = in.CategoryID
	rec.Activities = in.Activities
	rec.Languages = in.Languages
	rec.Includes = in.Includes
	rec.NotIncludes = in.NotIncludes
	rec.rename()
	return ok200(c, nil)
}

func (d *dataset) deleteTrip(c httpx.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.trips[id]; !ok {
		return fail(c, httpx.StatusNotFound, fmt.Sprintf("trip %d not found", id))
	}
	delete(d.trips, id)
	delete(d.reviews, id)
	return ok200(c, nil)
}

func (d *dataset) addImages(c httpx.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	r := c.Request()
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.trips[id]
	if !ok {
		return fail(c, httpx.StatusNotFound, fmt.Sprintf("trip %d not found", id))
	}
	added := 0
	for i := 0; ; i++ {
		prefix := fmt.Sprintf("images[%d].", i)
		files := r.MultipartForm.File[prefix+"Image"]
		if len(files) == 0 {
			break
		}
		ref := trips.ImageRef{ID: d.nextImage, ImageURL: fmt.Sprintf("/uploads/%d/%s", id, files[0].Filename)}
		d.nextImage++
		if main, _ := strconv.ParseBool(firstValue(r.MultipartForm.Value[prefix+"IsMainImage"])); main {
			if rec.MainImage != nil {
				rec.Images = append(rec.Images, *rec.MainImage)
			}
			rec.MainImage = &ref
		} else {
			rec.Images = append(rec.Images, ref)
		}
		added++
	}
	if added == 0 {
		return fail(c, httpx.StatusBadRequest, "no images in request")
	}
	return ok200(c, nil)
}

func (d *dataset) deleteImages(c httpx.Context) error {
	id, err := pathID(c)
	if err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	r := c.Request()
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	remove := map[int]bool{}
	for _, raw := range r.MultipartForm.Value["imageIds"] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fail(c, httpx.StatusBadRequest, "invalid image id "+raw)
		}
		remove[n] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.trips[id]
	if !ok {
		return fail(c, httpx.StatusNotFound, fmt.Sprintf("trip %d not found", id))
	}
	if rec.MainImage != nil && remove[rec.MainImage.ID] {
		rec.MainImage = nil
	}
	kept := rec.Images[:0]
	for _, img := range rec.Images {
		if !remove[img.ID] {
			kept = append(kept, img)
		}
	}
	rec.Images = kept
	return ok200(c, nil)
}

func (d *dataset) listReviews(c httpx.Context) error {
	tripID := queryInt(c, "TripId", 0)
	d.mu.Lock()
	list := append([]trips.Review(nil), d.reviews[tripID]...)
	d.mu.Unlock()

	field, dir, _ := strings.Cut(strings.ToLower(c.QueryParam("Sort")), ":")
	less := func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt }
	if field == "rating" {
		less = func(i, j int) bool { return list[i].Rating < list[j].Rating }
	}
	if dir == "desc" {
		sort.SliceStable(list, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(list, less)
	}
	if list == nil {
		list = []trips.Review{}
	}
	return ok200(c, trips.Page[trips.Review]{PageNumber: 1, PageSize: len(list), Count: len(list), Data: list})
}

func (d *dataset) deleteReview(c httpx.Context) error {
	tripID, err := pathID(c)
	if err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	var in struct {
		ID int `json:"id"`
	}
	if err := decodeJSON(c, &in); err != nil {
		return fail(c, httpx.StatusBadRequest, err.Error())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.reviews[tripID]
	for i, r := range list {
		if r.UserID != nil && *r.UserID == in.ID {
			d.reviews[tripID] = append(list[:i:i], list[i+1:]...)
			return ok200(c, nil)
		}
	}
	return fail(c, httpx.StatusNotFound, "review not found")
}

func (d *dataset) lookup(payload func() any) httpx.HandlerFunc {
	return func(c httpx.Context) error {
		d.mu.Lock()
		data := payload()
		d.mu.Unlock()
		return ok200(c, data)
	}
}

func decodeJSON(c httpx.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}
	return nil
}

func pathID(c httpx.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", c.Param("id"))
	}
	return id, nil
}

func queryInt(c httpx.Context, name string, fallback int) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
