package jenkins

import (
	"errors"
	"strings"
	"testing"
)

const pipelineConfig = `<?xml version='1.1' encoding='UTF-8'?>
<flow-definition plugin="workflow-job@1400.v7fd111b_ec82f">
  <description>Deploys &quot;main&quot;</description>
  <definition class="org.jenkinsci.plugins.workflow.cps.CpsFlowDefinition" plugin="workflow-cps@3894.vd0f0248b_a_fc4">
    <script>pipeline {
  agent any
  stages { stage(&apos;Build&apos;) { steps { sh &apos;make &amp;&amp; make test&apos; } } }
}</script>
    <sandbox>true</sandbox>
  </definition>
  <disabled>false</disabled>
</flow-definition>`

func TestExtractPipelineScript(t *testing.T) {
	t.Parallel()

	got, err := ExtractPipelineScript(pipelineConfig)
	if err != nil {
		t.Fatalf("ExtractPipelineScript error = %v", err)
	}

	want := "pipeline {\n  agent any\n  stages { stage('Build') { steps { sh 'make && make test' } } }\n}"
	if got != want {
		t.Fatalf("ExtractPipelineScript = %q, want %q", got, want)
	}
}

func TestExtractPipelineScriptMissing(t *testing.T) {
	t.Parallel()

	_, err := ExtractPipelineScript(`<?xml version='1.1' encoding='UTF-8'?><project><builders/></project>`)
	if !errors.Is(err, ErrNoPipelineScript) {
		t.Fatalf("error = %v, want ErrNoPipelineScript", err)
	}
}

func TestReplacePipelineScript(t *testing.T) {
	t.Parallel()

	script := "node {\n  sh 'echo <done> && exit 0'\n}"

	updated, err := ReplacePipelineScript(pipelineConfig, script)
	if err != nil {
		t.Fatalf("ReplacePipelineScript error = %v", err)
	}

	got, err := ExtractPipelineScript(updated)
	if err != nil {
		t.Fatalf("ExtractPipelineScript error = %v", err)
	}

	if got != script {
		t.Fatalf("script = %q, want %q", got, script)
	}

	start := strings.Index(pipelineConfig, "<script>")
	end := strings.Index(pipelineConfig, "</script>")
	newEnd := strings.Index(updated, "</script>")

	if updated[:start] != pipelineConfig[:start] {
		t.Fatalf("prefix changed")
	}

	if updated[newEnd:] != pipelineConfig[end:] {
		t.Fatalf("suffix changed")
	}

	if !strings.Contains(updated, "echo &lt;done&gt; &amp;&amp; exit 0") {
		t.Fatalf("script not escaped: %s", updated)
	}
}

func TestReplacePipelineScriptSelfClosing(t *testing.T) {
	t.Parallel()

	doc := `<flow-definition><definition><script/><sandbox>true</sandbox></definition></flow-definition>`

	updated, err := ReplacePipelineScript(doc, "echo hi")
	if err != nil {
		t.Fatalf("ReplacePipelineScript error = %v", err)
	}

	want := `<flow-definition><definition><script>echo hi</script><sandbox>true</sandbox></definition></flow-definition>`
	if updated != want {
		t.Fatalf("ReplacePipelineScript = %q, want %q", updated, want)
	}
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"blue":         "SUCCESS",
		"red":          "FAILED",
		"yellow":       "UNSTABLE",
		"grey":         "PENDING",
		"disabled":     "DISABLED",
		"aborted":      "ABORTED",
		"notbuilt":     "NOT_BUILT",
		"blue_anime":   "SUCCESS",
		"nobuilt_misc": "NOBUILT_MISC",
		"":             "UNKNOWN",
	}

	for color, want := range tests {
		if got := JobStatus(color); got != want {
			t.Fatalf("JobStatus(%q) = %q, want %q", color, got, want)
		}
	}
}
