package code

import (
	"strings"
	"testing"

	"github.com/insightx/insightx/internal/domain"
)

func TestValidateRejectsAmbientCapabilities(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     string
	}{
		{"os", `local f = os.remove("x")`, "os"},
		{"io", `io.open("/etc/passwd")`, "io"},
		{"require", `local socket = require("socket")`, "require"},
		{"load", `load("return 1")()`, "load"},
		{"dofile", `dofile("evil.lua")`, "dofile"},
		{"debug", `debug.sethook()`, "debug"},
		{"metatable", `setmetatable({}, {})`, "setmetatable"},
		{"nested", `result = { x = (function() return os.time() end)() }`, "os"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator().Validate(tt.fragment)
			if err == nil {
				t.Fatalf("Validate(%q) accepted ambient capability", tt.fragment)
			}
			if !domain.IsKind(err, domain.ErrRejectedCode) {
				t.Fatalf("error kind = %s, want rejected_code", domain.KindOf(err))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not name %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidateAcceptsAllowListedAnalysis(t *testing.T) {
	fragment := `
local amounts = {}
for i, row in ipairs(rows) do
	amounts[i] = row.amount
end
local mu = stats.mean(amounts)
local sigma = stats.stddev(amounts)
local outliers = {}
for _, z in ipairs(stats.zscores(amounts)) do
	if math.abs(z) > 3 then
		table.insert(outliers, z)
	end
end
result = {
	mean = mu,
	stddev = sigma,
	outlier_count = #outliers,
	note = string.format("%d rows analyzed", #rows),
}
`
	if err := NewValidator().Validate(fragment); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateTracksLocalShadowing(t *testing.T) {
	// A local named like a blocked global is the fragment's own value.
	fragment := `
local os = 42
result = { answer = os }
`
	if err := NewValidator().Validate(fragment); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsSyntaxErrors(t *testing.T) {
	err := NewValidator().Validate(`result = {`)
	if !domain.IsKind(err, domain.ErrRejectedCode) {
		t.Fatalf("error kind = %v, want rejected_code", err)
	}
}

func TestValidateFailsFastOnFirstConstruct(t *testing.T) {
	err := NewValidator().Validate("io.open(\"a\")\nos.exit(1)")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Error(), `"io"`) || strings.Contains(err.Error(), `"os"`) {
		t.Fatalf("expected only the first construct reported, got %q", err.Error())
	}
}
