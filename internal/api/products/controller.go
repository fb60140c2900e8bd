package products

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/power-plant/powerplant/internal/jobs"
	"github.com/power-plant/powerplant/internal/product"
	"github.com/power-plant/powerplant/internal/storage"
	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("ProductsController")

type (
	Store interface {
		GetByCode(ctx context.Context, code string) (*product.Product, error)
		List(ctx context.Context, filter product.Filter) ([]*product.Product, error)
		Create(ctx context.Context, record *product.Product) error
		Update(ctx context.Context, code string, changes product.Changes) error
		RemoveMediaURL(ctx context.Context, code string, url string) error
		Delete(ctx context.Context, code string) ([]string, error)
	}

	Dispatcher interface {
		SubmitDownload(ctx context.Context, recordID uuid.UUID) error
		SubmitCompression(ctx context.Context, recordID uuid.UUID, targetURL string) error
		List(ctx context.Context, recordID uuid.UUID) ([]jobs.Summary, error)
	}

	ObjectStore interface {
		Head(ctx context.Context, key string) (*storage.ObjectInfo, error)
		Delete(ctx context.Context, key string) error
	}

	CreateRequest struct {
		Code         string   `json:"code"`
		Title        string   `json:"title"`
		MainImageURL string   `json:"mainImageUrl"`
		SubImageURLs []string `json:"subImageUrls"`
		Length       int      `json:"length"`
		Genres       []string `json:"genres"`
		Series       string   `json:"series"`
		Maker        string   `json:"maker"`
		Casts        []string `json:"casts"`
		DownloadURL  *string  `json:"downloadUrl"`
	}

	UpdateRequest struct {
		Title       *string   `json:"title"`
		DownloadURL *string   `json:"downloadUrl"`
		Casts       *[]string `json:"casts"`
	}

	CompressionRequest struct {
		MediaURL string `json:"mediaUrl"`
	}

	MediaRequest struct {
		MediaURL string `json:"mediaUrl"`
	}

	MediaInfoDto struct {
		ContentType string `json:"contentType"`
		Size        string `json:"size"`
	}

	// Controller exposes the product catalog and the acquisition trigger
	// endpoints. Acquisition itself happens elsewhere (in job containers);
	// the trigger endpoints only validate and submit.
	Controller struct {
		store      Store
		dispatcher Dispatcher
		objects    ObjectStore
	}
)

// messageOf mirrors the minimal trigger response contract consumed by the
// UI: it only inspects the message string.
func messageOf(outcome bool) map[string]string {
	if outcome {
		return map[string]string{"message": "succeed"}
	}

	return map[string]string{"message": "failed"}
}

func New(store Store, dispatcher Dispatcher, objects ObjectStore) *Controller {
	return &Controller{store: store, dispatcher: dispatcher, objects: objects}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/", controller.create)
	eg.GET("/:code/", controller.get)
	eg.PATCH("/:code/", controller.update)
	eg.DELETE("/:code/", controller.delete)
	eg.POST("/:code/download/", controller.triggerDownload)
	eg.POST("/:code/compression/", controller.triggerCompression)
	eg.GET("/:code/jobs/", controller.listJobs)
	eg.GET("/:code/media/", controller.getMediaInfo)
	eg.DELETE("/:code/media/", controller.deleteMedia)
}

func (controller *Controller) list(ec echo.Context) error {
	filter := product.Filter{}
	if raw := ec.QueryParam("isDownloaded"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "isDownloaded must be a boolean")
		}
		filter.IsDownloaded = &value
	}
	if raw := ec.QueryParam("isProcessing"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "isProcessing must be a boolean")
		}
		filter.IsProcessing = &value
	}
	if raw := ec.QueryParam("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = value
	}
	if raw := ec.QueryParam("offset"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
		filter.Offset = value
	}

	records, err := controller.store.List(ec.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, records)
}

func (controller *Controller) create(ec echo.Context) error {
	var request CreateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}
	if request.Code == "" || request.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body missing mandatory 'code' or 'title' field")
	}

	record := &product.Product{
		Code:         request.Code,
		Title:        request.Title,
		MainImageURL: request.MainImageURL,
		SubImageUrls: request.SubImageURLs,
		Length:       request.Length,
		Genres:       request.Genres,
		Series:       request.Series,
		Maker:        request.Maker,
		Casts:        request.Casts,
		DownloadURL:  request.DownloadURL,
	}
	if err := controller.store.Create(ec.Request().Context(), record); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusCreated, record)
}

func (controller *Controller) get(ec echo.Context) error {
	record, err := controller.fetch(ec)
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, record)
}

func (controller *Controller) update(ec echo.Context) error {
	var request UpdateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	}

	code := ec.Param("code")
	err := controller.store.Update(ec.Request().Context(), code, product.Changes{
		Title:       request.Title,
		DownloadURL: request.DownloadURL,
		Casts:       request.Casts,
	})
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return controller.get(ec)
}

// delete removes the record and then makes a best-effort pass over its
// media objects; an object that fails to delete is logged but does not
// resurrect the record.
func (controller *Controller) delete(ec echo.Context) error {
	code := ec.Param("code")
	mediaURLs, err := controller.store.Delete(ec.Request().Context(), code)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	for _, url := range mediaURLs {
		_, key, ok := storage.ParseMediaURL(url)
		if !ok {
			log.Emit(logger.WARNING, "Media URL %s of deleted product %s is not an object storage URL, skipping cleanup\n", url, code)
			continue
		}

		if err := controller.objects.Delete(ec.Request().Context(), key); err != nil {
			log.Emit(logger.ERROR, "Failed to delete object %s for removed product %s: %s\n", key, code, err.Error())
		}
	}

	return ec.NoContent(http.StatusOK)
}

// triggerDownload submits an asynchronous download run for the record. The
// response body carries only a coarse outcome message.
func (controller *Controller) triggerDownload(ec echo.Context) error {
	record, err := controller.store.GetByCode(ec.Request().Context(), ec.Param("code"))
	if err != nil || !record.HasDownloadSource() || record.IsProcessing {
		return ec.JSON(http.StatusInternalServerError, messageOf(false))
	}

	if err := controller.dispatcher.SubmitDownload(ec.Request().Context(), record.ID); err != nil {
		log.Emit(logger.ERROR, "Failed to submit download job for %s: %s\n", record.Code, err.Error())
		return ec.JSON(http.StatusInternalServerError, messageOf(false))
	}

	return ec.JSON(http.StatusOK, messageOf(true))
}

func (controller *Controller) triggerCompression(ec echo.Context) error {
	var request CompressionRequest
	if err := ec.Bind(&request); err != nil || request.MediaURL == "" {
		return ec.JSON(http.StatusInternalServerError, messageOf(false))
	}

	record, err := controller.store.GetByCode(ec.Request().Context(), ec.Param("code"))
	if err != nil || record.IsProcessing {
		return ec.JSON(http.StatusInternalServerError, messageOf(false))
	}

	if err := controller.dispatcher.SubmitCompression(ec.Request().Context(), record.ID, request.MediaURL); err != nil {
		log.Emit(logger.ERROR, "Failed to submit compression job for %s: %s\n", record.Code, err.Error())
		return ec.JSON(http.StatusInternalServerError, messageOf(false))
	}

	return ec.JSON(http.StatusOK, messageOf(true))
}

func (controller *Controller) listJobs(ec echo.Context) error {
	record, err := controller.fetch(ec)
	if err != nil {
		return err
	}

	summaries, err := controller.dispatcher.List(ec.Request().Context(), record.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, summaries)
}

// getMediaInfo reports the content type and human-readable size of one of
// the record's media objects, identified by its public URL.
func (controller *Controller) getMediaInfo(ec echo.Context) error {
	mediaURL := ec.QueryParam("mediaUrl")
	if mediaURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mediaUrl query parameter is required")
	}

	_, key, ok := storage.ParseMediaURL(mediaURL)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "mediaUrl is not an object storage URL")
	}

	info, err := controller.objects.Head(ec.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	return ec.JSON(http.StatusOK, MediaInfoDto{
		ContentType: info.ContentType,
		Size:        bytesToSize(info.Size),
	})
}

func (controller *Controller) deleteMedia(ec echo.Context) error {
	var request MediaRequest
	if err := ec.Bind(&request); err != nil || request.MediaURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body missing mandatory 'mediaUrl' field")
	}

	code := ec.Param("code")
	if err := controller.store.RemoveMediaURL(ec.Request().Context(), code, request.MediaURL); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if _, key, ok := storage.ParseMediaURL(request.MediaURL); ok {
		if err := controller.objects.Delete(ec.Request().Context(), key); err != nil {
			log.Emit(logger.ERROR, "Removed media URL from %s but failed to delete object %s: %s\n", code, key, err.Error())
		}
	}

	return controller.get(ec)
}

func (controller *Controller) fetch(ec echo.Context) (*product.Product, error) {
	record, err := controller.store.GetByCode(ec.Request().Context(), ec.Param("code"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound)
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return record, nil
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

func bytesToSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Byte"
	}

	exponent := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if exponent >= len(sizeUnits) {
		exponent = len(sizeUnits) - 1
	}

	value := float64(bytes) / math.Pow(1024, float64(exponent))
	return fmt.Sprintf("%s %s", strconv.FormatFloat(math.Round(value), 'f', -1, 64), sizeUnits[exponent])
}
