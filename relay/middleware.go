package relay

import (
	"compress/gzip"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// InflateRequestBody decodes gzip request bodies and caps the inflated
// stream at limit bytes; reading past it fails with *http.MaxBytesError.
// The compressed size is bounded separately by echo's BodyLimit. Encodings
// other than gzip are refused with 415.
func InflateRequestBody(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			encoding := strings.ToLower(strings.TrimSpace(req.Header.Get(echo.HeaderContentEncoding)))
			switch encoding {
			case "", "identity":
				return next(c)
			case "gzip", "x-gzip":
			default:
				return c.String(http.StatusUnsupportedMediaType, "unsupported content encoding "+encoding)
			}

			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid gzip body: "+err.Error())
			}
			defer zr.Close()

			req.Body = http.MaxBytesReader(c.Response(), zr, limit)
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}
