//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/ingest"
	"github.com/sells-group/landscaper/internal/model"
)

const rentRoll = "Unit,Tenant,Rent,SqFt\n101,Acme Dental,1500,900\n102,Blue Bottle,2100,1200\n103,,,850\n"

// testConfig points the global config at a throwaway SQLite database and
// blob directory.
func testConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "landscaper.db")},
		Blob:      config.BlobConfig{Driver: "file", Root: filepath.Join(dir, "blobs")},
		Anthropic: config.AnthropicConfig{RequestTimeoutSecs: 300},
		ToolLoop:  config.ToolLoopConfig{MaxIterations: 5, MaxSeconds: 60},
		Extract:   config.ExtractConfig{ChunkSize: 35, ChunkOverlap: 1, JobTimeoutSecs: 30, SampleValues: 3, MaxJobs: 2},
		Mapping:   config.MappingConfig{Source: "file"},
		OCR:       config.OCRConfig{Provider: "local", PdfToTextPath: "pdftotext"},
		Server:    config.ServerConfig{Port: 8080, CORSOrigins: []string{"*"}},
	}
}

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestInitPipeline_UnknownMode(t *testing.T) {
	testConfig(t)

	env, err := initPipeline(context.Background(), "enrichment")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitPipeline_ServeRequiresModelKey(t *testing.T) {
	testConfig(t)

	env, err := initPipeline(context.Background(), "serve")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestInitPipeline_LLMExtractionRequiresKey(t *testing.T) {
	testConfig(t)
	cfg.Extract.UseLLM = true

	_, err := initExtractor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires anthropic.key")
}

func TestInitRegistry_FromFile(t *testing.T) {
	testConfig(t)
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
parcel_table:
  identity_key: apn
  avg_fields_per_record: 2
  fields:
    - name: apn
      type: text
      required: true
      synonyms: [apn, parcel]
    - name: acreage
      type: number
      synonyms: [acres]
`), 0o600))
	cfg.Mapping.SynonymsPath = path

	reg, err := initRegistry(context.Background())
	require.NoError(t, err)
	schema, err := reg.Schema(model.DocTypeParcelTable)
	require.NoError(t, err)
	assert.Len(t, schema.Fields, 2)
}

func TestInitPipeline_IngestAndExtract(t *testing.T) {
	testConfig(t)
	ctx := context.Background()

	env, err := initPipeline(ctx, "ingest")
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.Assistant, "assistant needs a model key")

	res, err := env.Ingest.Ingest(ctx, ingest.Upload{
		ProjectID: "proj-1",
		Filename:  "rent_roll.csv",
		DocType:   model.DocTypeRentRoll,
		Data:      []byte(rentRoll),
	})
	require.NoError(t, err)

	job, err := env.Runner.Start(ctx, res.Document.ID, "")
	require.NoError(t, err)
	env.Runner.Wait()

	v, err := env.Runner.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, v.Status, v.Error)

	recs, err := env.Store.ListRecords(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestServeHandler_UploadAndHealth(t *testing.T) {
	testConfig(t)
	ctx := context.Background()

	env, err := initPipeline(ctx, "ingest")
	require.NoError(t, err)
	defer env.Close()
	srv := httptest.NewServer(newServeHandler(env))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("project_id", "proj-1"))
	require.NoError(t, mw.WriteField("doc_type", "rent_roll"))
	fw, err := mw.CreateFormFile("file", "rent_roll.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(rentRoll))
	require.NoError(t, mw.Close())

	resp, err = http.Post(srv.URL+"/documents", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var res ingest.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, model.CollisionNone, res.Collision)

	// The assistant is disabled without a model key.
	resp, err = http.Post(srv.URL+"/assistant/"+res.Document.ID+"/messages", "application/json", bytes.NewBufferString(`{"text":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
