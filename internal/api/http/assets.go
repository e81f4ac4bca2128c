package http

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/courseimport/internal/logging"
	"github.com/mind-engage/courseimport/internal/storage"
)

// MountAssets serves relocated assets so their URLs in course documents resolve.
func MountAssets(r chi.Router, bs storage.BlobStore, log *zap.Logger) {
	// GET /assets/*   -> returns the blob at whatever follows /assets/
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")        // everything after /assets/
		key = strings.TrimPrefix(key, "/") // normalize
		clean, err := storage.CleanKey(key)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid key"})
			return
		}
		// only relocated assets are public; uploaded packages share the prefix
		if !storage.IsAssetKey(clean) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
			return
		}
		rc, err := bs.Get(r.Context(), clean)
		if err != nil {
			logging.For(r.Context(), log).Debug("asset not found", zap.String("key", clean), zap.Error(err))
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
			return
		}
		defer rc.Close()

		ct := mime.TypeByExtension(path.Ext(clean))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = io.Copy(w, rc)
	})
}
