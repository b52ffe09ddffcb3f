package resolve

import "testing"

func TestProviderKnownNames(t *testing.T) {
	for _, name := range []string{"openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama"} {
		p, err := Provider(Config{Provider: name, Model: "m"})
		if err != nil {
			t.Errorf("Provider(%q): %v", name, err)
			continue
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}
}

func TestProviderUnknown(t *testing.T) {
	if _, err := Provider(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestResolverCachesClients(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "sk-env")
	r := Resolver()

	a, err := r("groq", "llama-3.3-70b")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r("groq", "llama-3.3-70b")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same provider/model pair should reuse the cached client")
	}

	c, err := r("groq", "other-model")
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("different models must get distinct clients")
	}

	if _, err := r("bogus", "m"); err == nil {
		t.Error("unknown provider should surface the error")
	}
}
