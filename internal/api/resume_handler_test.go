package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/tasks"
)

func TestResumeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(dbtest.Student{Email: "s@vvce.ac.in", Roles: []string{"student"}})
	_, otherToken := env.seed(dbtest.Student{Email: "o@vvce.ac.in", Roles: []string{"student"}})

	w := env.multipart("/v1/resumes", token, nil,
		formFile{field: "file", filename: "cv.pdf", contentType: "application/pdf", content: []byte("%PDF-1.7 resume")})
	expectStatus(t, w, http.StatusCreated)
	resume := decode[resumeResponse](t, w)
	if resume.FileName != "cv.pdf" || resume.ATSScore != nil {
		t.Fatalf("unexpected resume %+v", resume)
	}

	w = env.json(http.MethodGet, "/v1/resumes", token, nil)
	expectStatus(t, w, http.StatusOK)
	list := decode[struct {
		Resumes []resumeResponse `json:"resumes"`
	}](t, w)
	if len(list.Resumes) != 1 {
		t.Fatalf("expected one resume got %d", len(list.Resumes))
	}

	link := fmt.Sprintf("/v1/resumes/%d/download-link", resume.ID)
	w = env.json(http.MethodGet, link, otherToken, nil)
	expectStatus(t, w, http.StatusNotFound)

	w = env.json(http.MethodGet, link, token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w); got["url"] == "" || got["expires_at"] == nil {
		t.Fatalf("expected url and expiry got %v", got)
	}

	analyze := fmt.Sprintf("/v1/resumes/%d/analyze", resume.ID)
	w = env.json(http.MethodPost, analyze, token, map[string]string{"resume_text": "  "})
	expectStatus(t, w, http.StatusBadRequest)

	w = env.json(http.MethodPost, analyze, token, map[string]string{"resume_text": "Go developer, 3 projects"})
	expectStatus(t, w, http.StatusAccepted)
	if len(env.tasks.tasks) != 1 || env.tasks.tasks[0].Type() != tasks.TypeResumeAnalyze {
		t.Fatalf("expected one analyze task got %d", len(env.tasks.tasks))
	}
	var payload tasks.ResumeAnalyzePayload
	if err := json.Unmarshal(env.tasks.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ResumeID != resume.ID {
		t.Fatalf("unexpected payload %+v", payload)
	}

	w = env.json(http.MethodDelete, fmt.Sprintf("/v1/resumes/%d", resume.ID), otherToken, nil)
	expectStatus(t, w, http.StatusNotFound)

	w = env.json(http.MethodDelete, fmt.Sprintf("/v1/resumes/%d", resume.ID), token, nil)
	expectStatus(t, w, http.StatusNoContent)
	if env.storage.uploadCount() != 0 {
		t.Fatalf("resume object should be deleted")
	}
}

func TestUploadResume_RejectsType(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(dbtest.Student{Email: "s@vvce.ac.in", Roles: []string{"student"}})

	w := env.multipart("/v1/resumes", token, nil,
		formFile{field: "file", filename: "photo.png", contentType: "image/png", content: []byte("\x89PNG")})
	expectStatus(t, w, http.StatusBadRequest)

	w = env.multipart("/v1/resumes", token, nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestUploadResume_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(dbtest.Student{Email: "s@vvce.ac.in", Roles: []string{"student"}})
	env.storage.uploadErr = errStorageDown

	w := env.multipart("/v1/resumes", token, nil,
		formFile{field: "file", filename: "cv.docx", contentType: "application/octet-stream", content: []byte("PK")})
	expectStatus(t, w, http.StatusInternalServerError)

	var count int64
	env.db.Model(&database.Resume{}).Count(&count)
	if count != 0 {
		t.Fatalf("no metadata row expected when the upload fails")
	}
}
