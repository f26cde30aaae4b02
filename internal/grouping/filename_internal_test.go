package grouping

import "testing"

func TestParseFilenameForGrouping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		filename    string
		wantBase    string
		wantExt     string
		wantPartNum int
		wantPartStr string
	}{
		{name: "dotPart", filename: "video.part3.mkv", wantBase: "video", wantExt: ".mkv", wantPartNum: 3, wantPartStr: ".part3"},
		{name: "underscorePart", filename: "video_part3.mkv", wantBase: "video", wantExt: ".mkv", wantPartNum: 3, wantPartStr: "_part3"},
		{name: "parenNumber", filename: "video (3).mkv", wantBase: "video", wantExt: ".mkv", wantPartNum: 3, wantPartStr: " (3)"},
		{name: "trailingDotNumber", filename: "video.3.mkv", wantBase: "video", wantExt: ".mkv", wantPartNum: 3, wantPartStr: ".3"},
		{name: "trailingUnderscoreNumber", filename: "video_3.mkv", wantBase: "video", wantExt: ".mkv", wantPartNum: 3, wantPartStr: "_3"},
		{name: "extensionItselfIsPartMarker", filename: "video.part3", wantBase: "video", wantExt: "", wantPartNum: 3, wantPartStr: ".part3"},
		{name: "multiPartExtensionNoPartMarker", filename: "archive.tar.gz", wantBase: "archive", wantExt: ".tar.gz", wantPartNum: 0, wantPartStr: ""},
		{name: "noPartMarker", filename: "document.pdf", wantBase: "document", wantExt: ".pdf", wantPartNum: 0, wantPartStr: ""},
		{name: "noExtension", filename: "README", wantBase: "README", wantExt: "", wantPartNum: 0, wantPartStr: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := parseFilenameForGrouping(tc.filename)
			if !ok {
				t.Fatalf("parseFilenameForGrouping(%q) returned ok=false", tc.filename)
			}
			if got.base != tc.wantBase || got.ext != tc.wantExt || got.partNumber != tc.wantPartNum || got.partString != tc.wantPartStr {
				t.Fatalf("parseFilenameForGrouping(%q) = %+v, want base=%q ext=%q num=%d part=%q",
					tc.filename, got, tc.wantBase, tc.wantExt, tc.wantPartNum, tc.wantPartStr)
			}
		})
	}
}

func TestParseFilenameForGroupingEmpty(t *testing.T) {
	t.Parallel()

	if _, ok := parseFilenameForGrouping(""); ok {
		t.Fatal("parseFilenameForGrouping(\"\") should return ok=false")
	}
}
