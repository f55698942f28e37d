package catalogseed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ferro-labs/llm-gateway-core/catalog"
)

const validSeed = `{
	"providers": [{"id": "p1", "name": "openai", "priority": 0, "active": true}],
	"endpoints": [{"id": "e1", "provider_id": "p1", "base_url": "https://api.openai.com", "format": "openai_chat", "timeout_ms": 30000, "max_retries": 2, "active": true}],
	"credentials": [{"id": "c1", "endpoint_id": "e1", "secret": "sk-test", "active": true}],
	"global_models": [{"id": "gpt-4o-mini", "name": "gpt-4o-mini", "active": true}],
	"models": [{"id": "m1", "provider_id": "p1", "global_model_id": "gpt-4o-mini", "provider_name": "gpt-4o-mini", "active": true}]
}`

func writeSeedFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadInto(t *testing.T) {
	path := writeSeedFile(t, validSeed)

	store := catalog.NewStore()
	if err := LoadInto(store, path); err != nil {
		t.Fatalf("load catalog file: %v", err)
	}

	if _, ok := store.Provider("p1"); !ok {
		t.Fatal("expected provider p1 to be loaded")
	}
	if _, ok := store.Endpoint("e1"); !ok {
		t.Fatal("expected endpoint e1 to be loaded")
	}
	if _, ok := store.Credential("c1"); !ok {
		t.Fatal("expected credential c1 to be loaded")
	}
	if _, ok := store.GlobalModel("gpt-4o-mini"); !ok {
		t.Fatal("expected global model to be loaded")
	}
}

func TestLoadInto_MissingFile(t *testing.T) {
	store := catalog.NewStore()
	if err := LoadInto(store, "/tmp/does-not-exist-catalog-seed.json"); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestLoadInto_InvalidJSON(t *testing.T) {
	path := writeSeedFile(t, "{invalid")
	store := catalog.NewStore()
	if err := LoadInto(store, path); err == nil {
		t.Fatal("expected error for invalid JSON seed")
	}
}

func TestLint_Valid(t *testing.T) {
	seed, err := ReadFile(writeSeedFile(t, validSeed))
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}
	if problems := seed.Lint(); len(problems) != 0 {
		t.Fatalf("expected no lint problems, got %v", problems)
	}
}

func TestLint_CatchesBrokenReferences(t *testing.T) {
	seed := &Seed{
		Endpoints: []Endpoint{{ID: "e1", ProviderID: "missing-provider", BaseURL: "https://x", Format: catalog.FormatOpenAIChat}},
		Credentials: []Credential{
			{ID: "c1", EndpointID: "missing-endpoint", Secret: "sk-test"},
			{ID: "c1", EndpointID: "e1", Secret: ""},
		},
		Models: []Model{{ID: "m1", ProviderID: "missing-provider", GlobalModelID: "missing-model"}},
	}

	problems := seed.Lint()
	if len(problems) == 0 {
		t.Fatal("expected lint problems for dangling references and duplicate ids")
	}

	joined := ""
	for _, p := range problems {
		joined += p + "\n"
	}
	for _, want := range []string{"unknown provider_id", "duplicate credential id", "empty secret", "unknown global_model_id"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected a lint problem containing %q, got:\n%s", want, joined)
		}
	}
}
