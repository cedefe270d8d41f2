package classfile_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/classindex/internal/testutil"
	"github.com/calvinalkan/classindex/pkg/classfile"
)

var ignoreMethodCache = cmpopts.IgnoreUnexported(classfile.MethodOutline{})

func Test_ParseHeader_Returns_Hierarchy_When_Class_Extends_And_Implements(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/B").
		Super("sample/A").
		Interfaces("java/io/Serializable", "java/lang/Comparable").
		Bytes()

	header, err := classfile.ParseHeader(data)
	require.NoError(t, err)

	want := &classfile.Header{
		Access:     testutil.AccPublic | testutil.AccSuper,
		Name:       "sample/B",
		SuperName:  "sample/A",
		Interfaces: []string{"java/io/Serializable", "java/lang/Comparable"},
	}

	if diff := cmp.Diff(want, header); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, header.HasSuper())
	assert.True(t, header.Implements("java/io/Serializable"))
	assert.False(t, header.Implements("java/lang/Runnable"))
	assert.False(t, header.IsInterface())
}

func Test_ParseOutline_Header_Equals_ParseHeader_When_Parsing_Same_Bytes(t *testing.T) {
	t.Parallel()

	classes := map[string][]byte{
		"plain": testutil.NewClassBuilder("sample/A").Bytes(),
		"members": testutil.NewClassBuilder("sample/B").
			Super("sample/A").
			Interfaces("java/io/Serializable").
			Field(testutil.AccPublic, "count", "I").
			Method(testutil.AccPublic, "<init>", "()V").
			Method(testutil.AccPublic, "name", "(ILjava/lang/String;)Ljava/lang/String;").
			Bytes(),
		"all constants": testutil.NewClassBuilder("sample/C").AllConstantKinds().Bytes(),
		"interface":     testutil.NewClassBuilder("sample/I").Interface().Bytes(),
		"module":        testutil.NewClassBuilder("module-info").Module().Bytes(),
	}

	for name, data := range classes {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			header, err := classfile.ParseHeader(data)
			require.NoError(t, err)

			outline, err := classfile.ParseOutline(data)
			require.NoError(t, err)

			if diff := cmp.Diff(header, &outline.Header); diff != "" {
				t.Fatalf("outline header differs from header (-header +outline):\n%s", diff)
			}
		})
	}
}

func Test_ParseHeader_Reports_Object_Super_When_Class_Is_Interface(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/Service").Interface().NoSuper().Bytes()

	header, err := classfile.ParseHeader(data)
	require.NoError(t, err)

	assert.True(t, header.IsInterface())
	assert.True(t, header.IsAbstract())
	assert.Equal(t, classfile.JavaLangObject, header.SuperName)
}

func Test_ParseHeader_Reports_No_Super_When_Unit_Is_Module_Or_Root(t *testing.T) {
	t.Parallel()

	module, err := classfile.ParseHeader(testutil.NewClassBuilder("module-info").Module().Super("sample/Ignored").Bytes())
	require.NoError(t, err)

	assert.True(t, module.IsModule())
	assert.False(t, module.HasSuper())
	assert.Empty(t, module.SuperName)

	root, err := classfile.ParseHeader(testutil.NewClassBuilder(classfile.JavaLangObject).NoSuper().Bytes())
	require.NoError(t, err)

	assert.False(t, root.HasSuper())
	assert.Empty(t, root.SuperName)
}

func Test_ParseOutline_Returns_Fields_And_Methods_When_Class_Declares_Them(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/Person").
		AllConstantKinds().
		Field(testutil.AccPublic, "name", "Ljava/lang/String;").
		Field(0x0008, "COUNT", "J").
		Method(testutil.AccPublic, "<init>", "()V").
		Method(testutil.AccPublic|testutil.AccAbstract, "greet", "(Ljava/lang/String;[I)V").
		Bytes()

	outline, err := classfile.ParseOutline(data)
	require.NoError(t, err)

	want := &classfile.Outline{
		Header: classfile.Header{
			Access:    testutil.AccPublic | testutil.AccSuper,
			Name:      "sample/Person",
			SuperName: classfile.JavaLangObject,
		},
		Fields: []classfile.FieldOutline{
			{Access: testutil.AccPublic, Name: "name", Descriptor: "Ljava/lang/String;"},
			{Access: 0x0008, Name: "COUNT", Descriptor: "J"},
		},
		Methods: []*classfile.MethodOutline{
			{Access: testutil.AccPublic, Name: "<init>", Descriptor: "()V"},
			{Access: testutil.AccPublic | testutil.AccAbstract, Name: "greet", Descriptor: "(Ljava/lang/String;[I)V"},
		},
	}

	if diff := cmp.Diff(want, outline, ignoreMethodCache); diff != "" {
		t.Fatalf("outline mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, outline.Methods[0].IsConstructor())
	assert.False(t, outline.Methods[1].IsConstructor())
}

func Test_ParseOutline_Decodes_Names_When_They_Contain_Multibyte_Characters(t *testing.T) {
	t.Parallel()

	names := []string{
		"sample/Café",
		"sample/My例クラス",
		"sample/Emoji😀Holder",
		"sample/Nul\x00Inside",
		"sample/Ünïcödé/Ωμέγα",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			data := testutil.NewClassBuilder(name).
				Method(testutil.AccPublic, "método"+name[len("sample/"):], "()V").
				Bytes()

			outline, err := classfile.ParseOutline(data)
			require.NoError(t, err)

			assert.Equal(t, name, outline.Name)
			assert.Equal(t, "método"+name[len("sample/"):], outline.Methods[0].Name)
		})
	}
}

func Test_Parser_Reports_Annotations_Of_Interest_When_Class_Field_And_Method_Are_Annotated(t *testing.T) {
	t.Parallel()

	parser := classfile.NewParser(classfile.NewAnnotations("sample/Path", "sample/Inject"))

	data := testutil.NewClassBuilder("sample/Resource").
		AllConstantKinds().
		RichValues().
		Annotate("sample/Unrelated", "sample/Path").
		AnnotateInvisible("sample/Inject").
		Field(testutil.AccPublic, "service", "Lsample/Service;", "sample/Inject").
		Field(testutil.AccPublic, "plain", "I").
		Method(testutil.AccPublic, "list", "()Ljava/util/List;", "sample/Path", "sample/Inject").
		Method(testutil.AccPublic, "other", "()V", "sample/Unrelated").
		Bytes()

	outline, err := parser.Outline(data, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"sample/Path"}, outline.Annotations)
	assert.True(t, outline.HasAnnotation("sample/Path"))
	assert.False(t, outline.HasAnnotation("sample/Inject"), "invisible annotations are ignored")

	require.Len(t, outline.Fields, 2)
	assert.Equal(t, []string{"sample/Inject"}, outline.Fields[0].Annotations)
	assert.True(t, outline.Fields[0].HasAnnotation("sample/Inject"))
	assert.Nil(t, outline.Fields[1].Annotations)

	require.Len(t, outline.Methods, 2)
	assert.Equal(t, []string{"sample/Path", "sample/Inject"}, outline.Methods[0].Annotations)
	assert.Nil(t, outline.Methods[1].Annotations)
}

func Test_Parser_Reports_No_Annotations_When_Set_Is_Nil(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/Resource").Annotate("sample/Path").Bytes()

	outline, err := classfile.NewParser(nil).Outline(data, 0)
	require.NoError(t, err)

	assert.Nil(t, outline.Annotations)
}

func Test_AnnotationsOfInterest_Is_Used_By_ParseOutline_When_Registered(t *testing.T) {
	t.Parallel()

	classfile.AnnotationsOfInterest("sample/GlobalMarker")

	data := testutil.NewClassBuilder("sample/Marked").Annotate("sample/GlobalMarker").Bytes()

	outline, err := classfile.ParseOutline(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"sample/GlobalMarker"}, outline.Annotations)
	assert.True(t, classfile.DefaultAnnotations.Contains("sample/GlobalMarker"))
}

func Test_ParseOutlineAt_Matches_ParseOutline_When_Bytes_Are_Prefixed(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/B").Super("sample/A").Method(testutil.AccPublic, "run", "()V").Bytes()
	padded := append([]byte("junk-before-class"), data...)

	want, err := classfile.ParseOutline(data)
	require.NoError(t, err)

	got, err := classfile.ParseOutlineAt(padded, len("junk-before-class"))
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, ignoreMethodCache); diff != "" {
		t.Fatalf("outline mismatch (-want +got):\n%s", diff)
	}

	header, err := classfile.ParseHeaderAt(padded, len("junk-before-class"))
	require.NoError(t, err)
	assert.Equal(t, "sample/A", header.SuperName)
}

func Test_ParseOutlineAt_Returns_ErrMalformed_When_Offset_Is_Out_Of_Range(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/A").Bytes()

	for _, offset := range []int{-1, len(data) + 1} {
		_, err := classfile.ParseOutlineAt(data, offset)
		require.ErrorIs(t, err, classfile.ErrMalformed, "offset %d", offset)
	}
}

func Test_ParseOutline_Returns_ErrTruncated_When_Input_Is_Cut_At_Any_Point(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/Truncated").
		AllConstantKinds().
		RichValues().
		Annotate("sample/Path").
		Field(testutil.AccPublic, "f", "I", "sample/Path").
		Method(testutil.AccPublic, "m", "()V", "sample/Path").
		Bytes()

	parser := classfile.NewParser(classfile.NewAnnotations("sample/Path"))

	for n := range len(data) {
		_, err := parser.Outline(data[:n], 0)
		if !errors.Is(err, classfile.ErrTruncated) {
			t.Fatalf("len=%d: got err %v, want ErrTruncated", n, err)
		}

		if !errors.Is(err, classfile.ErrMalformed) {
			t.Fatalf("len=%d: ErrTruncated must wrap ErrMalformed", n)
		}
	}

	_, err := parser.Outline(data, 0)
	require.NoError(t, err)
}

func Test_ParseHeader_Returns_ErrBadMagic_When_Magic_Is_Wrong(t *testing.T) {
	t.Parallel()

	data := testutil.NewClassBuilder("sample/A").Bytes()
	data[0] = 0xCB

	_, err := classfile.ParseHeader(data)
	require.ErrorIs(t, err, classfile.ErrBadMagic)
	require.ErrorIs(t, err, classfile.ErrMalformed)
}

func Test_ParseHeader_Returns_ErrUnknownTag_When_Pool_Has_Unsupported_Entry(t *testing.T) {
	t.Parallel()

	data := preamble(2)
	data = append(data, 2, 0, 0)

	_, err := classfile.ParseHeader(data)
	require.ErrorIs(t, err, classfile.ErrUnknownTag)
	require.ErrorIs(t, err, classfile.ErrMalformed)
}

func Test_ParseHeader_Returns_ErrBadIndex_When_This_Class_Is_Not_A_Class_Entry(t *testing.T) {
	t.Parallel()

	// pool: #1 Utf8 "A"; this_class points at #1 instead of a Class entry
	data := preamble(2)
	data = append(data, 1, 0, 1, 'A')
	data = binary.BigEndian.AppendUint16(data, 0x0021)
	data = binary.BigEndian.AppendUint16(data, 1)
	data = binary.BigEndian.AppendUint16(data, 0)
	data = binary.BigEndian.AppendUint16(data, 0)

	_, err := classfile.ParseHeader(data)
	require.ErrorIs(t, err, classfile.ErrBadIndex)

	// index past the end of the pool
	binary.BigEndian.PutUint16(data[len(data)-6:], 9)

	_, err = classfile.ParseHeader(data)
	require.ErrorIs(t, err, classfile.ErrBadIndex)
}

func Test_ParseOutline_Returns_ErrTruncated_When_Declared_Count_Exceeds_Input(t *testing.T) {
	t.Parallel()

	// pool: #1 Utf8 "A", #2 Class #1; then access, this_class, super_class
	head := preamble(3)
	head = append(head, 1, 0, 1, 'A', 7, 0, 1)
	head = binary.BigEndian.AppendUint16(head, 0x0021)
	head = binary.BigEndian.AppendUint16(head, 2)
	head = binary.BigEndian.AppendUint16(head, 0)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "pool", data: preamble(0xFFFF)},
		{name: "interfaces", data: binary.BigEndian.AppendUint16(bytes.Clone(head), 0xFFFF)},
		{name: "fields", data: append(bytes.Clone(head), 0, 0, 0xFF, 0xFF)},
		{name: "methods", data: append(bytes.Clone(head), 0, 0, 0, 0, 0xFF, 0xFF, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := classfile.ParseOutline(tt.data)
			require.ErrorIs(t, err, classfile.ErrTruncated)
		})
	}
}

func Test_Parser_Is_Safe_When_Annotations_Are_Added_During_Parsing(t *testing.T) {
	t.Parallel()

	annotations := classfile.NewAnnotations()
	parser := classfile.NewParser(annotations)

	data := testutil.NewClassBuilder("sample/Busy").
		RichValues().
		Annotate("sample/A0", "sample/A1", "sample/A2").
		Bytes()

	var wg sync.WaitGroup

	for i := range 3 {
		wg.Go(func() {
			annotations.Add(fmt.Sprintf("sample/A%d", i))
		})
	}

	for range 8 {
		wg.Go(func() {
			for range 100 {
				outline, err := parser.Outline(data, 0)
				if err != nil {
					t.Errorf("parse: %v", err)

					return
				}

				for _, a := range outline.Annotations {
					if !annotations.Contains(a) {
						t.Errorf("reported %q which was never registered", a)
					}
				}
			}
		})
	}

	wg.Wait()

	outline, err := parser.Outline(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample/A0", "sample/A1", "sample/A2"}, outline.Annotations)
	assert.Equal(t, []string{"sample/A0", "sample/A1", "sample/A2"}, annotations.Names())
}

// preamble returns magic, version and constant_pool_count.
func preamble(poolCount uint16) []byte {
	data := binary.BigEndian.AppendUint32(nil, 0xCAFEBABE)
	data = binary.BigEndian.AppendUint32(data, 65)

	return binary.BigEndian.AppendUint16(data, poolCount)
}
