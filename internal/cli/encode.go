package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/classindex/internal/config"
	"github.com/calvinalkan/classindex/pkg/classfile"
)

// cborMode encodes deterministically: same value, same bytes.
var cborMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cli: CBOR encoder initialization failed: " + err.Error())
	}

	return mode
}()

// encode writes v to w in the given format.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)

	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()

	case config.FormatCBOR:
		data, err := cborMode.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding cbor: %w", err)
		}

		_, err = w.Write(data)

		return err

	default:
		return fmt.Errorf("%w: %q", config.ErrUnknownFormat, format)
	}
}

// Views decouple output field names from library types.

type headerView struct {
	Source     string   `json:"source"               yaml:"source"`
	Name       string   `json:"name"                 yaml:"name"`
	Access     []string `json:"access"               yaml:"access"`
	SuperName  string   `json:"super,omitempty"      yaml:"super,omitempty"`
	Interfaces []string `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
}

type memberView struct {
	Name        string   `json:"name"                  yaml:"name"`
	Descriptor  string   `json:"descriptor"            yaml:"descriptor"`
	Access      []string `json:"access"                yaml:"access"`
	Annotations []string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

type outlineView struct {
	headerView `yaml:",inline"`

	Annotations []string     `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Fields      []memberView `json:"fields,omitempty"      yaml:"fields,omitempty"`
	Methods     []memberView `json:"methods,omitempty"     yaml:"methods,omitempty"`
}

func newHeaderView(source string, h *classfile.Header) headerView {
	return headerView{
		Source:     source,
		Name:       h.Name,
		Access:     classFlags(h.Access),
		SuperName:  h.SuperName,
		Interfaces: h.Interfaces,
	}
}

func newOutlineView(source string, o *classfile.Outline) outlineView {
	view := outlineView{
		headerView:  newHeaderView(source, &o.Header),
		Annotations: o.Annotations,
	}

	for i := range o.Fields {
		f := &o.Fields[i]
		view.Fields = append(view.Fields, memberView{
			Name:        f.Name,
			Descriptor:  f.Descriptor,
			Access:      memberFlags(f.Access, fieldFlagNames),
			Annotations: f.Annotations,
		})
	}

	for _, m := range o.Methods {
		view.Methods = append(view.Methods, memberView{
			Name:        m.Name,
			Descriptor:  m.Descriptor,
			Access:      memberFlags(m.Access, methodFlagNames),
			Annotations: m.Annotations,
		})
	}

	return view
}

type flagName struct {
	bit  uint32
	name string
}

var classFlagNames = []flagName{
	{classfile.AccPublic, "public"},
	{classfile.AccFinal, "final"},
	{classfile.AccInterface, "interface"},
	{classfile.AccAbstract, "abstract"},
	{classfile.AccSynthetic, "synthetic"},
	{classfile.AccAnnotation, "annotation"},
	{classfile.AccEnum, "enum"},
	{classfile.AccModule, "module"},
}

var fieldFlagNames = []flagName{
	{classfile.AccPublic, "public"},
	{classfile.AccPrivate, "private"},
	{classfile.AccProtected, "protected"},
	{classfile.AccStatic, "static"},
	{classfile.AccFinal, "final"},
	{classfile.AccVolatile, "volatile"},
	{classfile.AccTransient, "transient"},
	{classfile.AccSynthetic, "synthetic"},
	{classfile.AccEnum, "enum"},
}

var methodFlagNames = []flagName{
	{classfile.AccPublic, "public"},
	{classfile.AccPrivate, "private"},
	{classfile.AccProtected, "protected"},
	{classfile.AccStatic, "static"},
	{classfile.AccFinal, "final"},
	{classfile.AccSynchronized, "synchronized"},
	{classfile.AccBridge, "bridge"},
	{classfile.AccVarargs, "varargs"},
	{classfile.AccNative, "native"},
	{classfile.AccAbstract, "abstract"},
	{classfile.AccStrict, "strict"},
	{classfile.AccSynthetic, "synthetic"},
}

func classFlags(access uint32) []string {
	return memberFlags(access, classFlagNames)
}

func memberFlags(access uint32, names []flagName) []string {
	out := []string{}

	for _, f := range names {
		if access&f.bit != 0 {
			out = append(out, f.name)
		}
	}

	return out
}
