/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// defaultUploadLimit caps audio uploads when no override is configured.
const defaultUploadLimit = 64 << 20

var audioExtensions = map[string]bool{
	".mp3": true,
	".wav": true,
	".ogg": true,
}

type mediaFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size string `json:"size"`
	Date string `json:"date"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// handleFilesList lists the audio clips in the media root. Asset-store
// blobs under assets/ are playback internals and stay hidden.
func (a *API) handleFilesList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(a.cfg.MediaRoot)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []mediaFile{})
			return
		}
		writeError(w, http.StatusInternalServerError, "media_root_unreadable")
		return
	}

	files := make([]mediaFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !audioExtensions[ext] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, mediaFile{
			ID:   name,
			Name: name,
			Size: fmt.Sprintf("%.2f MB", float64(info.Size())/(1024*1024)),
			Date: info.ModTime().Format("2006-01-02 15:04"),
			Type: strings.TrimPrefix(ext, "."),
			URL:  "/media/" + name,
		})
	}
	writeJSON(w, http.StatusOK, files)
}

func (a *API) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.MaxUploadSizeBytes()
	if limit <= 0 {
		limit = defaultUploadLimit
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	// Strip any path the client smuggled into the filename.
	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid_filename")
		return
	}
	if !audioExtensions[strings.ToLower(filepath.Ext(name))] {
		writeError(w, http.StatusBadRequest, "unsupported_file_type")
		return
	}

	if err := os.MkdirAll(a.cfg.MediaRoot, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "media_root_unwritable")
		return
	}

	dst, err := os.Create(filepath.Join(a.cfg.MediaRoot, name))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "file_create_failed")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(dst.Name())
		writeError(w, http.StatusInternalServerError, "file_write_failed")
		return
	}

	a.logger.Info().Str("file", name).Str("user", r.URL.Query().Get("user")).Msg("media file uploaded")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "File uploaded",
		"name":    name,
		"url":     "/media/" + name,
	})
}

func (a *API) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "filename"))
	if name == "" || name == "." || name == ".." {
		writeError(w, http.StatusBadRequest, "invalid_filename")
		return
	}

	if err := os.Remove(filepath.Join(a.cfg.MediaRoot, name)); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "file_delete_failed")
		return
	}

	a.logger.Info().Str("file", name).Str("user", r.URL.Query().Get("user")).Msg("media file deleted")
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted"})
}
