package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/pdfdoc/pdftest"
	"github.com/kalambet/pdfdeck/internal/validate"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ConvertDocument(t *testing.T) {
	deps, _ := setupDeps(t)
	handler := mcpConvert(deps)

	result, err := handler(context.Background(), makeCallToolRequest("convert_document", map[string]interface{}{
		"path": "/srv/in/report.pdf",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %s", toolText(t, result))
	}

	var res SubmitResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	j, err := deps.Store.GetJob(res.ID)
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if j.Kind != job.KindConvert || j.Inputs[0] != "/srv/in/report.pdf" || j.Filename != "report.pdf" {
		t.Errorf("job = %+v", j)
	}
}

func TestMCPTool_ConvertDocument_MissingPath(t *testing.T) {
	deps, _ := setupDeps(t)
	result, _ := mcpConvert(deps)(context.Background(), makeCallToolRequest("convert_document", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestMCPTool_MergeDocuments(t *testing.T) {
	deps, _ := setupDeps(t)
	handler := mcpMerge(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("merge_documents", map[string]interface{}{
		"paths": []interface{}{"/a.pdf", "gs://bucket/b.pdf"},
	}))
	if result.IsError {
		t.Fatalf("tool returned error: %s", toolText(t, result))
	}
	var res SubmitResult
	json.Unmarshal([]byte(toolText(t, result)), &res)
	if res.Kind != job.KindMerge || res.Filename != "merged.pdf" {
		t.Errorf("result = %+v", res)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("merge_documents", map[string]interface{}{
		"paths": []interface{}{"/only.pdf"},
	}))
	if !result.IsError {
		t.Error("expected error for a single input")
	}

	many := make([]interface{}, maxBatchFiles+1)
	for i := range many {
		many[i] = "/x.pdf"
	}
	result, _ = handler(context.Background(), makeCallToolRequest("merge_documents", map[string]interface{}{"paths": many}))
	if !result.IsError {
		t.Error("expected error for too many inputs")
	}
}

func TestMCPTool_JobStatus(t *testing.T) {
	deps, _ := setupDeps(t)
	handler := mcpJobStatus(deps)
	seedJob(t, deps, "job-1", job.KindConvert)

	result, _ := handler(context.Background(), makeCallToolRequest("job_status", map[string]interface{}{"id": "job-1"}))
	var v mcpJobView
	json.Unmarshal([]byte(toolText(t, result)), &v)
	if v.Status != job.StatusPending || v.OutputPath != "" {
		t.Errorf("pending view = %+v", v)
	}

	out := completeJob(t, deps, "job-1", "in.pptx", "deck")
	result, _ = handler(context.Background(), makeCallToolRequest("job_status", map[string]interface{}{"id": "job-1"}))
	v = mcpJobView{}
	json.Unmarshal([]byte(toolText(t, result)), &v)
	if v.Status != job.StatusCompleted || v.OutputPath != out {
		t.Errorf("completed view = %+v", v)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("job_status", map[string]interface{}{"id": "nope"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("unknown job: %+v", result)
	}
}

func TestMCPTool_ValidateArtifact(t *testing.T) {
	deps, _ := setupDeps(t)
	handler := mcpValidate(deps)
	path := pdftest.Write(t, t.TempDir(), "doc.pdf", 2)

	result, _ := handler(context.Background(), makeCallToolRequest("validate_artifact", map[string]interface{}{"path": path}))
	if result.IsError {
		t.Fatalf("tool returned error: %s", toolText(t, result))
	}
	var r validate.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &r); err != nil {
		t.Fatal(err)
	}
	if r.Path != path || r.FileSize == 0 {
		t.Errorf("result = %+v", r)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("validate_artifact", map[string]interface{}{"path": "/does/not/exist.pptx"}))
	if !result.IsError {
		t.Error("expected error for missing file")
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, _ := setupDeps(t)
	for _, id := range []string{"a", "b", "c"} {
		seedJob(t, deps, id, job.KindConvert)
	}

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("jobs://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var views []job.View
	if err := json.Unmarshal([]byte(tc.Text), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 3 {
		t.Errorf("got %d jobs, want 3", len(views))
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := setupDeps(t)
	handler := mcpConvert(deps)

	var wg sync.WaitGroup
	errs := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := handler(context.Background(), makeCallToolRequest("convert_document", map[string]interface{}{
				"path": "/in/doc.pdf",
			}))
			if err != nil || result.IsError {
				errs <- "call failed"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	all, _ := deps.Store.ListJobs("", 20, 0)
	if len(all) != 10 {
		t.Errorf("stored %d jobs, want 10", len(all))
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := setupDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
