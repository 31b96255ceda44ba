// Package trips builds the console's trip, review, media and lookup requests.
// Every call goes through an httpx.Client whose transport is expected to be
// the auth gateway.
package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/adeilh/tripdesk/auth"
	"github.com/adeilh/tripdesk/httpx"
)

var (
	ErrRejected     = errors.New("trips: backend reported failure")
	ErrInvalidInput = errors.New("trips: invalid input")
)

type Client struct {
	http *httpx.Client
}

func New(client *httpx.Client) *Client {
	return &Client{http: client}
}

func (c *Client) GetAllTrips(ctx context.Context, params ListParams) (Page[Summary], error) {
	var env Envelope[Page[Summary]]
	if _, err := c.http.Get(ctx, "/api/Trip/GetAllTrips", &env, httpx.WithQuery(params.query())); err != nil {
		return Page[Summary]{}, err
	}
	if !env.OK() {
		return Page[Summary]{}, rejected(env.Message)
	}
	return env.Data, nil
}

// GetTripAdmin loads a trip with all translations for editing.
func (c *Client) GetTripAdmin(ctx context.Context, id int) (Detail, error) {
	return c.getDetail(ctx, "/api/Trip/GetTripByIdForAdmin/"+strconv.Itoa(id))
}

// GetTripPublic loads the public view of a trip, including its images.
func (c *Client) GetTripPublic(ctx context.Context, id int) (Detail, error) {
	return c.getDetail(ctx, "/api/Trip/GetTripById/"+strconv.Itoa(id))
}

func (c *Client) getDetail(ctx context.Context, path string) (Detail, error) {
	var env Envelope[Detail]
	if _, err := c.http.Get(ctx, path, &env); err != nil {
		return Detail{}, err
	}
	if !env.OK() {
		return Detail{}, rejected(env.Message)
	}
	return env.Data, nil
}

// AddTrip creates a trip and returns its id.
func (c *Client) AddTrip(ctx context.Context, trip NewTrip) (int, error) {
	var env Envelope[int]
	if _, err := c.http.Post(ctx, "/api/Trip/AddTrip", trip, &env, jsonBody()); err != nil {
		return 0, err
	}
	if !env.OK() {
		return 0, rejected(env.Message)
	}
	return env.Data, nil
}

func (c *Client) UpdateTrip(ctx context.Context, id int, update TripUpdate) error {
	var env Envelope[json.RawMessage]
	if _, err := c.http.Put(ctx, "/api/Trip/UpdateTrip/"+strconv.Itoa(id), update, &env, jsonBody()); err != nil {
		return err
	}
	return checkEnvelope(env)
}

func (c *Client) DeleteTrip(ctx context.Context, id int) error {
	var env Envelope[json.RawMessage]
	if _, err := c.http.Delete(ctx, "/api/Trip/DeleteTrip/"+strconv.Itoa(id), nil, &env); err != nil {
		return err
	}
	return checkEnvelope(env)
}

// GetReviews lists reviews of a trip; sort is passed through, e.g. "date:desc".
func (c *Client) GetReviews(ctx context.Context, tripID int, sort string) (Page[Review], error) {
	q := map[string]string{"TripId": strconv.Itoa(tripID)}
	if sort != "" {
		q["Sort"] = sort
	}
	var env Envelope[Page[Review]]
	if _, err := c.http.Get(ctx, "/api/Reviews/GetReviews", &env, httpx.WithQuery(q)); err != nil {
		return Page[Review]{}, err
	}
	if !env.OK() {
		return Page[Review]{}, rejected(env.Message)
	}
	return env.Data, nil
}

func (c *Client) DeleteReview(ctx context.Context, tripID, userID int) error {
	var env Envelope[json.RawMessage]
	body := map[string]int{"id": userID}
	if _, err := c.http.Delete(ctx, "/api/Reviews/DeleteReview/"+strconv.Itoa(tripID), body, &env, jsonBody()); err != nil {
		return err
	}
	return checkEnvelope(env)
}

// AddImages uploads files as multipart/form-data using indexed field names.
func (c *Client) AddImages(ctx context.Context, tripID int, images []Image) error {
	if len(images) == 0 {
		return fmt.Errorf("%w: no images", ErrInvalidInput)
	}
	opts := make([]httpx.RequestOption, 0, len(images)+1)
	fields := map[string][]string{}
	for i, img := range images {
		if img.Content == nil {
			return fmt.Errorf("%w: image %d has no content", ErrInvalidInput, i)
		}
		prefix := fmt.Sprintf("images[%d].", i)
		opts = append(opts, httpx.WithFile(prefix+"Image", img.FileName, img.Content))
		fields[prefix+"IsMainImage"] = []string{strconv.FormatBool(img.IsMain)}
	}
	opts = append(opts, httpx.WithFormFields(fields))

	var env Envelope[json.RawMessage]
	if _, err := c.http.Post(ctx, "/api/Trip/AddImagesToTrip/"+strconv.Itoa(tripID), nil, &env, opts...); err != nil {
		return err
	}
	return checkEnvelope(env)
}

// DeleteImages removes images by id. The body is multipart even though the
// verb is DELETE, so it is encoded up front and sent verbatim.
func (c *Client) DeleteImages(ctx context.Context, tripID int, imageIDs []int) error {
	if len(imageIDs) == 0 {
		return fmt.Errorf("%w: no image ids", ErrInvalidInput)
	}
	fields := url.Values{}
	for _, id := range imageIDs {
		fields.Add("imageIds", strconv.Itoa(id))
	}
	mp, err := auth.NewMultipart(fields)
	if err != nil {
		return err
	}

	var env Envelope[json.RawMessage]
	headers := httpx.WithRequestHeaders(map[string]string{"Content-Type": mp.ContentType})
	if _, err := c.http.Delete(ctx, "/api/Trip/DeleteImagesFromTrip/"+strconv.Itoa(tripID), mp.Data, &env, headers); err != nil {
		return err
	}
	return checkEnvelope(env)
}

func (c *Client) Languages(ctx context.Context) ([]Option, error) {
	return c.lookup(ctx, "/api/Language/GetAllLanguages")
}

func (c *Client) Activities(ctx context.Context) ([]Option, error) {
	return c.lookup(ctx, "/api/Activity/GetAllActivities")
}

func (c *Client) Categories(ctx context.Context) ([]Option, error) {
	return c.lookup(ctx, "/api/Category/GetAllCategories")
}

func (c *Client) Includes(ctx context.Context) ([]Option, error) {
	return c.lookup(ctx, "/api/Includes/GetAllIncludes")
}

// lookup accepts both {data:[...]} and {data:{data:[...]}}; anything else is
// an empty list.
func (c *Client) lookup(ctx context.Context, path string) ([]Option, error) {
	var env Envelope[json.RawMessage]
	if _, err := c.http.Get(ctx, path, &env); err != nil {
		return nil, err
	}
	return unwrapOptions(env.Data), nil
}

func unwrapOptions(data json.RawMessage) []Option {
	var direct []Option
	if err := json.Unmarshal(data, &direct); err == nil && direct != nil {
		return direct
	}
	var nested struct {
		Data []Option `json:"data"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Data != nil {
		return nested.Data
	}
	return []Option{}
}

func jsonBody() httpx.RequestOption {
	return httpx.WithRequestHeaders(map[string]string{"Content-Type": "application/json"})
}

func checkEnvelope(env Envelope[json.RawMessage]) error {
	if !env.OK() {
		return rejected(env.Message)
	}
	return nil
}

func rejected(msg string) error {
	if msg == "" {
		return ErrRejected
	}
	return fmt.Errorf("%w: %s", ErrRejected, msg)
}
