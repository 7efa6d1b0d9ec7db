package filestore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeB2 serves just enough of the native API for the client flow:
// authorize, list, download, get-upload-url, upload.
func fakeB2(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/b2api/v2/b2_authorize_account", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"authorizationToken": "token-1",
			"apiUrl":             srv.URL,
			"downloadUrl":        srv.URL,
		})
	})
	mux.HandleFunc("/b2api/v2/b2_list_file_names", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			StartFileName string `json:"startFileName"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		out := map[string]any{"files": []map[string]string{}}
		if _, ok := files[req.StartFileName]; ok {
			out["files"] = []map[string]string{{"fileName": req.StartFileName}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/file/etl-extracts/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/file/etl-extracts/"):]
		data, ok := files[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	})
	mux.HandleFunc("/b2api/v2/b2_get_upload_url", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"uploadUrl":          srv.URL + "/upload",
			"authorizationToken": "upload-token",
		})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "upload-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Bz-Content-Sha1") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		files[r.Header.Get("X-Bz-File-Name")] = body
		json.NewEncoder(w).Encode(map[string]string{"fileId": "f1"})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestB2_FlowAgainstFakeAPI(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"kinhmat/daily_data_2026_08_28_kinhmatviettin.csv": []byte("product_name\nGọng kính\n"),
	}
	srv := fakeB2(t, files)

	b2 := NewB2(Config{
		KeyID:          "key",
		ApplicationKey: "secret",
		BucketID:       "b2-001",
		Bucket:         "etl-extracts",
		Folder:         "kinhmat",
	})
	b2.authBase = srv.URL

	ctx := context.Background()

	ok, err := b2.Exists(ctx, "daily_data_2026_08_28_kinhmatviettin.csv")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
	ok, err = b2.Exists(ctx, "missing.csv")
	if err != nil || ok {
		t.Fatalf("Exists missing: ok=%v err=%v", ok, err)
	}

	data, err := b2.Fetch(ctx, "daily_data_2026_08_28_kinhmatviettin.csv")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "product_name\nGọng kính\n" {
		t.Fatalf("Fetch=%q", data)
	}

	if err := b2.Put(ctx, "lws_dw_2026_08_28_kinhmatviettin.csv", []byte("a,b\n")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if string(files["kinhmat/lws_dw_2026_08_28_kinhmatviettin.csv"]) != "a,b\n" {
		t.Fatalf("upload did not land in bucket: %v", files)
	}
}
