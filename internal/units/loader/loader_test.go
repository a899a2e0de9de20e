package loader

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dshills/thunder/internal/notify"
	"github.com/dshills/thunder/internal/units"
	"github.com/dshills/thunder/internal/units/registry"
)

const massXML = `<?xml version="1.0" encoding="utf-8"?>
<!-- sample definitions -->
<unitfile name="Test Units" version="1.0">
	<unitgroup name="Mass">
		<!-- base unit -->
		<unit name="gram">
			<multiply>1</multiply>
			<symbol default="true">g</symbol>
		</unit>
		<unit name="kilogram">
			<multiply>10^3</multiply>
			<symbol>kilo</symbol>
			<symbol default="true">kg</symbol>
		</unit>
	</unitgroup>
	<unitgroup name="Temperature">
		<unit name="Kelvin">
			<symbol default="true">K</symbol>
		</unit>
		<unit name="Celsius">
			<add>273.15</add>
			<symbol default="true">C</symbol>
		</unit>
	</unitgroup>
</unitfile>`

type harness struct {
	reg    *registry.Registry
	loader *Loader
	fs     *MemFS
	diags  []notify.Event
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		reg: registry.New(nil),
		fs:  NewMemFS(),
	}
	n := notify.New()
	t.Cleanup(n.Close)
	n.SubscribeKind(notify.KindDiagnostic, func(e notify.Event) {
		h.diags = append(h.diags, e)
	})

	opts = append([]Option{WithFileSystem(h.fs), WithNotifier(n)}, opts...)
	h.loader = New(opts...)
	return h
}

func (h *harness) load(t *testing.T, name, doc string) (*Info, error) {
	t.Helper()
	h.fs.WriteFile(name, []byte(doc))
	info, err := h.loader.Load(context.Background(), name)
	if err == nil {
		h.reg = info.Registry
	}
	return info, err
}

func (h *harness) hasDiag(substr string) bool {
	for _, d := range h.diags {
		if strings.Contains(d.Message, substr) {
			return true
		}
	}
	return false
}

func TestLoad_Sample(t *testing.T) {
	h := newHarness(t)

	info, err := h.load(t, "units.xml", massXML)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if info.Name != "Test Units" {
		t.Errorf("Name = %q, want 'Test Units'", info.Name)
	}
	if info.Version != 1.0 {
		t.Errorf("Version = %v, want 1", info.Version)
	}
	if info.Groups != 2 || info.Units != 4 || info.Symbols != 5 {
		t.Errorf("counts = %d groups, %d units, %d symbols; want 2, 4, 5", info.Groups, info.Units, info.Symbols)
	}
	if info.Format != FormatXML {
		t.Errorf("Format = %v, want xml", info.Format)
	}
	if info.LoadID == "" {
		t.Error("LoadID is empty")
	}
	if len(h.diags) != 0 {
		t.Errorf("unexpected diagnostics: %+v", h.diags)
	}

	kg, ok := h.reg.UnitBySymbol("KG")
	if !ok {
		t.Fatal("kg not registered")
	}
	if kg.Multiplier != 1000 {
		t.Errorf("kilogram Multiplier = %v, want 1000", kg.Multiplier)
	}
	if kg.DefaultSymbol != "kg" {
		t.Errorf("kilogram DefaultSymbol = %q, want 'kg'", kg.DefaultSymbol)
	}
	if len(kg.Symbols) != 2 || kg.Symbols[0] != "kilo" {
		t.Errorf("kilogram Symbols = %v", kg.Symbols)
	}

	c, _ := h.reg.UnitByName("celsius")
	if c.Adder != 273.15 || c.Multiplier != 0 {
		t.Errorf("Celsius = %+v", c)
	}

	mass, ok := h.reg.Group("MASS")
	if !ok || !mass.Contains("kilogram") || mass.Contains("celsius") {
		t.Error("Mass group membership is wrong")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.loader.Load(context.Background(), "missing.xml")
	if !errors.Is(err, units.ErrFileNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrFileNotFound", err)
	}
	if units.CodeOf(err) != units.FileNotFound {
		t.Errorf("CodeOf = %v", units.CodeOf(err))
	}
}

func TestLoad_Fatal(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"wrong root", `<units version="1.0"></units>`, "corrupt or incomplete"},
		{"no version", `<unitfile name="x"></unitfile>`, "no version number specified"},
		{"bad version", `<unitfile version="one"></unitfile>`, "no valid version number"},
		{"zero version", `<unitfile version="0"></unitfile>`, "no valid version number"},
		{"newer version", `<unitfile version="2.0"></unitfile>`, "newer version"},
		{"empty", `<?xml version="1.0"?><!-- nothing -->`, "contains no data"},
		{"malformed", "<unitfile version=\"1.0\">\n<unitgroup name=\"Mass\">\n</unitfile>", "malformed"},
		{"two roots", `<unitfile version="1.0"/><unitfile version="1.0"/>`, "multiple root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.load(t, "units.xml", tt.doc)
			if err == nil {
				t.Fatal("expected fatal error")
			}

			var fe *units.UnitFileError
			if !errors.As(err, &fe) {
				t.Fatalf("error %T is not *units.UnitFileError", err)
			}
			if !errors.Is(err, units.ErrBadUnitFile) {
				t.Error("fatal error should match ErrBadUnitFile")
			}
			if !strings.Contains(fe.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", fe.Error(), tt.want)
			}
		})
	}
}

func TestLoad_MalformedCarriesPosition(t *testing.T) {
	h := newHarness(t)
	_, err := h.load(t, "units.xml", "<unitfile version=\"1.0\">\n<unitgroup name=\"Mass\">\n</unitfile>")

	var fe *units.UnitFileError
	if !errors.As(err, &fe) {
		t.Fatalf("error %v is not *units.UnitFileError", err)
	}
	if fe.Line != 3 {
		t.Errorf("Line = %d, want 3", fe.Line)
	}
	if fe.Detail == "" {
		t.Error("Detail should carry the parser message")
	}
}

func TestLoad_RootCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	_, err := h.load(t, "units.xml", `<UnitFile name="x" version="1"><UnitGroup name="Length"><Unit name="metre"><Symbol>m</Symbol></Unit></UnitGroup></UnitFile>`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := h.reg.UnitBySymbol("m"); !ok {
		t.Error("metre not registered")
	}
}

func TestLoad_Diagnostics(t *testing.T) {
	doc := `<unitfile version="1.0">
	<bogus/>
	<unitgroup>
		<unit name="orphan"/>
	</unitgroup>
	<unitgroup name="Mass">
		<thing/>
		<unit><symbol>x</symbol></unit>
		<unit name="gram"><multiply>1</multiply><symbol default="true">g</symbol></unit>
		<unit name="GRAM"><multiply>2</multiply></unit>
		<unit name="broken"><symbol>b</symbol><multiply>ten</multiply></unit>
		<unit name="heavy"><add>x</add></unit>
		<unit name="grain"><symbol>g</symbol><symbol></symbol><symbol>gr</symbol><symbol>GR</symbol><note>ignored</note></unit>
	</unitgroup>
</unitfile>`

	h := newHarness(t)
	info, err := h.load(t, "units.xml", doc)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wantDiags := []string{
		"file has no internal units name",
		"bad tag found while parsing groups (tag was 'bogus')",
		"found a group with no name",
		"bad tag found while parsing units of group 'Mass' (tag was 'thing')",
		"found a unit in group 'Mass' with no name",
		"duplicate unit with name 'GRAM'",
		"unit 'broken' has invalid 'multiply' value. Unit skipped.",
		"unit 'heavy' has invalid 'add' value. Unit skipped.",
		"a duplicate symbol was found and ignored (g)",
		"unit 'grain' has an invalid symbol specified",
		"a duplicate symbol was found and ignored (GR)",
	}
	for _, want := range wantDiags {
		if !h.hasDiag(want) {
			t.Errorf("missing diagnostic %q", want)
		}
	}
	if info.Diagnostics != len(h.diags) {
		t.Errorf("Info.Diagnostics = %d, published %d", info.Diagnostics, len(h.diags))
	}
	if info.Name != units.DefaultFileName {
		t.Errorf("Name = %q, want default", info.Name)
	}

	// First definition wins.
	gram, _ := h.reg.UnitByName("gram")
	if gram.Multiplier != 1 {
		t.Errorf("gram Multiplier = %v, want 1", gram.Multiplier)
	}
	if u, _ := h.reg.UnitBySymbol("g"); u != gram {
		t.Error("symbol g should still map to gram")
	}

	// Skipped units leave nothing behind.
	if _, ok := h.reg.UnitByName("broken"); ok {
		t.Error("broken unit was registered")
	}
	if _, ok := h.reg.UnitBySymbol("b"); ok {
		t.Error("symbol of a skipped unit was registered")
	}
	if _, ok := h.reg.UnitByName("orphan"); ok {
		t.Error("unit of an unnamed group was registered")
	}

	grain, ok := h.reg.UnitByName("grain")
	if !ok {
		t.Fatal("grain not registered")
	}
	if len(grain.Symbols) != 1 || grain.Symbols[0] != "gr" {
		t.Errorf("grain Symbols = %v, want [gr]", grain.Symbols)
	}
	if grain.DefaultSymbol != "grain" {
		t.Errorf("grain DefaultSymbol = %q, want its name", grain.DefaultSymbol)
	}

	for _, d := range h.diags {
		if d.LoadID != info.LoadID {
			t.Errorf("diagnostic LoadID = %q, want %q", d.LoadID, info.LoadID)
		}
		if d.Source != "units.xml" {
			t.Errorf("diagnostic Source = %q", d.Source)
		}
	}
}

func TestLoad_DuplicateGroupReplaces(t *testing.T) {
	doc := `<unitfile name="x" version="1.0">
	<unitgroup name="Mass"><unit name="gram"><symbol>g</symbol></unit></unitgroup>
	<unitgroup name="mass"><unit name="pound"><symbol>lb</symbol></unit></unitgroup>
</unitfile>`

	h := newHarness(t)
	info, err := h.load(t, "units.xml", doc)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !h.hasDiag("duplicate group with name 'mass'") {
		t.Error("missing duplicate group diagnostic")
	}
	if info.Groups != 1 || info.Units != 1 {
		t.Errorf("counts = %d groups, %d units; want 1, 1", info.Groups, info.Units)
	}
	if _, ok := h.reg.UnitBySymbol("g"); ok {
		t.Error("units of the replaced group should be unregistered")
	}
	g, _ := h.reg.Group("MASS")
	if !g.Contains("pound") {
		t.Error("replacement group should hold pound")
	}
}

func TestLoad_DefaultAttribute(t *testing.T) {
	doc := `<unitfile name="x" version="1.0"><unitgroup name="Length">
	<unit name="metre"><symbol default="false">m</symbol></unit>
	<unit name="foot"><symbol default="">ft</symbol></unit>
</unitgroup></unitfile>`

	h := newHarness(t)
	if _, err := h.load(t, "units.xml", doc); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	metre, _ := h.reg.UnitByName("metre")
	if metre.DefaultSymbol != "metre" {
		t.Errorf("metre DefaultSymbol = %q, want 'metre'", metre.DefaultSymbol)
	}
	foot, _ := h.reg.UnitByName("foot")
	if foot.DefaultSymbol != "ft" {
		t.Errorf("foot DefaultSymbol = %q, want 'ft'", foot.DefaultSymbol)
	}
}

func TestLoad_ReloadResets(t *testing.T) {
	h := newHarness(t)
	if _, err := h.load(t, "units.xml", massXML); err != nil {
		t.Fatal(err)
	}

	info, err := h.load(t, "units.xml", `<unitfile name="x" version="1.0"><unitgroup name="Time"><unit name="second"><symbol>s</symbol></unit></unitgroup></unitfile>`)
	if err != nil {
		t.Fatal(err)
	}
	if info.Units != 1 {
		t.Errorf("Units = %d, want 1", info.Units)
	}
	if _, ok := h.reg.UnitBySymbol("kg"); ok {
		t.Error("reload kept units of the previous document")
	}
}

func TestLoad_BuildsFreshRegistry(t *testing.T) {
	h := newHarness(t)
	first, err := h.load(t, "units.xml", massXML)
	if err != nil {
		t.Fatal(err)
	}

	second, err := h.load(t, "units.xml", `<unitfile name="x" version="1.0"><unitgroup name="Time"><unit name="second"><symbol>s</symbol></unit></unitgroup></unitfile>`)
	if err != nil {
		t.Fatal(err)
	}
	if first.Registry == second.Registry {
		t.Fatal("loads share a registry")
	}
	if _, ok := first.Registry.UnitBySymbol("kg"); !ok {
		t.Error("a later load modified an earlier registry")
	}

	if _, err := h.load(t, "units.xml", `<unitfile version="2.0"></unitfile>`); err == nil {
		t.Fatal("expected fatal error")
	}
	if _, ok := h.reg.UnitBySymbol("s"); !ok {
		t.Error("a failed load modified the last good registry")
	}
}

func TestLoadData_Span(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	l := New(WithTracer(tp.Tracer("loader-test")))

	info, err := l.LoadData(context.Background(), "units.xml", []byte(massXML))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.LoadData(context.Background(), "broken.xml", []byte(`<units version="1.0"/>`)); err == nil {
		t.Fatal("expected fatal error")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}

	loaded := spans[0]
	if loaded.Name() != "units.load" {
		t.Errorf("span name = %q, want units.load", loaded.Name())
	}
	want := map[attribute.Key]attribute.Value{
		"units.source":      attribute.StringValue("units.xml"),
		"units.load_id":     attribute.StringValue(info.LoadID),
		"units.format":      attribute.StringValue("xml"),
		"units.groups":      attribute.IntValue(2),
		"units.units":       attribute.IntValue(4),
		"units.diagnostics": attribute.IntValue(0),
	}
	got := make(map[attribute.Key]attribute.Value)
	for _, kv := range loaded.Attributes() {
		got[kv.Key] = kv.Value
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %v, want %v", k, got[k].Emit(), v.Emit())
		}
	}
	if loaded.Status().Code == codes.Error {
		t.Error("successful load marked as error")
	}

	failed := spans[1]
	if failed.Status().Code != codes.Error {
		t.Errorf("failed load status = %v, want Error", failed.Status().Code)
	}
	if !strings.Contains(failed.Status().Description, "corrupt or incomplete") {
		t.Errorf("status description = %q", failed.Status().Description)
	}
	if len(failed.Events()) == 0 || failed.Events()[0].Name != "exception" {
		t.Error("fatal error was not recorded on the span")
	}
}

func TestLoad_ReloadEvent(t *testing.T) {
	fsys := NewMemFS()
	fsys.WriteFile("units.xml", []byte(massXML))

	n := notify.New()
	defer n.Close()

	var reloads []notify.Event
	n.SubscribeKind(notify.KindReload, func(e notify.Event) {
		reloads = append(reloads, e)
	})

	l := New(WithFileSystem(fsys), WithNotifier(n))
	info, err := l.Load(context.Background(), "units.xml")
	if err != nil {
		t.Fatal(err)
	}
	if len(reloads) != 1 || reloads[0].LoadID != info.LoadID {
		t.Errorf("reload events = %+v", reloads)
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	h := newHarness(t)
	h.fs.WriteFile("units.xml", []byte(massXML))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.loader.Load(ctx, "units.xml"); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

const massTOML = `
[unitfile]
name = "Test Units"
version = 1.0

[[unitfile.unitgroup]]
name = "Mass"

[[unitfile.unitgroup.unit]]
name = "gram"
multiply = 1
symbol = [{ value = "g", default = true }]

[[unitfile.unitgroup.unit]]
name = "kilogram"
multiply = "10^3"
symbol = ["kilo", { value = "kg", default = true }]
`

func TestLoad_TOML(t *testing.T) {
	h := newHarness(t)

	info, err := h.load(t, "units.toml", massTOML)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if info.Format != FormatTOML {
		t.Errorf("Format = %v, want toml", info.Format)
	}
	if info.Name != "Test Units" || info.Units != 2 || info.Symbols != 3 {
		t.Errorf("info = %+v", info)
	}

	kg, ok := h.reg.UnitBySymbol("kg")
	if !ok || kg.Multiplier != 1000 || kg.DefaultSymbol != "kg" {
		t.Errorf("kilogram = %+v", kg)
	}
}

func TestLoad_TOMLFatal(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"wrong root", "[units]\nversion = 1.0\n", "corrupt or incomplete"},
		{"two roots", "[unitfile]\nversion = 1.0\n[other]\nx = 1\n", "single root table"},
		{"scalar root", "unitfile = 1\n", "not a table"},
		{"syntax", "[unitfile\nversion = 1.0\n", "malformed"},
		{"newer", "[unitfile]\nversion = 3\n", "newer version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.load(t, "units.toml", tt.doc)
			if !errors.Is(err, units.ErrBadUnitFile) {
				t.Fatalf("error = %v, want ErrBadUnitFile", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(massTOML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	info, err := h.load(t, "units.toml.gz", buf.String())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if info.Format != FormatTOML || info.Units != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestLoad_Latin1(t *testing.T) {
	// "°" encoded as ISO-8859-1 (0xB0)
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<unitfile name=\"x\" version=\"1.0\"><unitgroup name=\"Angle\">" +
		"<unit name=\"degree\"><symbol>\xb0</symbol></unit></unitgroup></unitfile>"

	h := newHarness(t)
	if _, err := h.load(t, "units.xml", doc); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := h.reg.UnitBySymbol("°"); !ok {
		t.Error("latin-1 symbol was not decoded")
	}
}

func TestLoadData_ForcedFormat(t *testing.T) {
	l := New(WithFormat(FormatTOML))

	info, err := l.LoadData(context.Background(), "<memory>", []byte(massTOML))
	if err != nil {
		t.Fatalf("LoadData() error = %v", err)
	}
	if info.Format != FormatTOML {
		t.Errorf("Format = %v, want toml", info.Format)
	}
}

func TestParseNumberString(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"1", 1, false},
		{" 0.001 ", 0.001, false},
		{"10^3", 1000, false},
		{"10^-2", 0.01, false},
		{"2.54e-2", 0.0254, false},
		{"ten", 0, true},
		{"10^x", 0, true},
		{"2^3^2", 0, true},
		{"10^400", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseNumberString(tt.in)
		if tt.wantErr {
			if !errors.Is(err, units.ErrBadValue) {
				t.Errorf("ParseNumberString(%q) error = %v, want ErrBadValue", tt.in, err)
			}
			if !math.IsNaN(got) {
				t.Errorf("ParseNumberString(%q) = %v, want NaN on failure", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseNumberString(%q) error = %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ParseNumberString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"units.xml", FormatXML},
		{"units.TOML", FormatTOML},
		{"units.toml.gz", FormatTOML},
		{"units.xml.gz", FormatXML},
		{"units", FormatXML},
	}

	for _, tt := range tests {
		if got := DetectFormat(tt.in); got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
