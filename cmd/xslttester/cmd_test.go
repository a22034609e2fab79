package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XSLTTESTER_CONFIG", filepath.Join(t.TempDir(), "none.yml"))
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSamplesCommand(t *testing.T) {
	out, err := execute(t, "", "samples", "xml")
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if !strings.Contains(out, "<catalog>") || strings.Contains(out, "xsl:stylesheet") {
		t.Fatalf("unexpected samples output:\n%s", out)
	}
	if _, err := execute(t, "", "samples", "json"); err == nil {
		t.Fatal("expected error for unknown sample")
	}
}

func TestPrettifyCommand_Stdin(t *testing.T) {
	out, err := execute(t, "<a><b>x</b></a>", "prettify", "-")
	if err != nil {
		t.Fatalf("prettify: %v", err)
	}
	want := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<a>\n  <b>x</b>\n</a>\n"
	if out != want {
		t.Fatalf("want %q, got %q", want, out)
	}
}

func TestTransformCommand_Files(t *testing.T) {
	dir := t.TempDir()
	xml := filepath.Join(dir, "in.xml")
	xsl := filepath.Join(dir, "t.xsl")
	if err := os.WriteFile(xml, []byte("<names><n>ada</n><n>bob</n></names>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(xsl, []byte(`<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform">
  <xsl:output method="text"/>
  <xsl:param name="sep" select="','"/>
  <xsl:template match="/"><xsl:for-each select="names/n"><xsl:value-of select="."/><xsl:if test="position() != last()"><xsl:value-of select="$sep"/></xsl:if></xsl:for-each></xsl:template>
</xsl:stylesheet>`), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "transform", "--xml", xml, "--xsl", xsl, "--param", "sep=;")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out != "ada;bob\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTransformCommand_Failure(t *testing.T) {
	out, err := execute(t, "<xsl:stylesheet", "transform", "--xsl", "-")
	if err != errFailed {
		t.Fatalf("want errFailed, got %v", err)
	}
	if !strings.Contains(out, "SystemID: stylesheet") {
		t.Fatalf("diagnostics not printed:\n%s", out)
	}
}

func TestTransformCommand_BadParam(t *testing.T) {
	if _, err := execute(t, "", "transform", "--param", "novalue"); err == nil {
		t.Fatal("expected error for malformed --param")
	}
}

func TestServeCommand_PrintConfig(t *testing.T) {
	t.Setenv("XSLTTESTER__SERVER__GRPC_PORT", "9999")
	out, err := execute(t, "", "serve", "--print-config")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !strings.Contains(out, "grpc_port: 9999") {
		t.Fatalf("env override missing from config dump:\n%s", out)
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"a=1", "b==x", " c =y"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if got["a"] != "1" || got["b"] != "=x" || got["c"] != "y" {
		t.Fatalf("unexpected params %v", got)
	}
	if p, _ := parseParams(nil); p != nil {
		t.Fatalf("want nil params, got %v", p)
	}
	if _, err := parseParams([]string{"=v"}); err == nil {
		t.Fatal("expected error for empty name")
	}
}
