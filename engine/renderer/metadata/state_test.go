package metadata

import (
	"math"
	"testing"
)

func TestDepthStencilDescriptorCompare(t *testing.T) {
	base := DepthStencilDescriptor{DepthWrite: true, DepthFunc: CompareFunctionLess}

	// disabled stencil ignores the rest of the stencil fields
	noisy := base
	noisy.Stencil.ReadMask = 0xff
	noisy.Stencil.Front.CompareOp = CompareFunctionGreater
	if c := base.Compare(noisy); c != 0 {
		t.Fatalf("disabled stencil should compare equal, got %d", c)
	}

	enabled := base
	enabled.Stencil.Enabled = true
	if base.Compare(enabled) >= 0 || enabled.Compare(base) <= 0 {
		t.Fatal("disabled stencil should sort before enabled stencil")
	}

	cases := []struct {
		name string
		a, b DepthStencilDescriptor
	}{
		{"depth write first", DepthStencilDescriptor{DepthWrite: false, DepthFunc: CompareFunctionAlways}, DepthStencilDescriptor{DepthWrite: true, DepthFunc: CompareFunctionNever}},
		{"then compare function", DepthStencilDescriptor{DepthFunc: CompareFunctionLess}, DepthStencilDescriptor{DepthFunc: CompareFunctionGreater}},
		{"then stencil masks", DepthStencilDescriptor{Stencil: StencilParams{Enabled: true, ReadMask: 1}}, DepthStencilDescriptor{Stencil: StencilParams{Enabled: true, ReadMask: 2}}},
		{"then stencil ops", DepthStencilDescriptor{Stencil: StencilParams{Enabled: true, Back: StencilStateOp{StencilPassOp: StencilOperationKeep}}}, DepthStencilDescriptor{Stencil: StencilParams{Enabled: true, Back: StencilStateOp{StencilPassOp: StencilOperationReplace}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.a.Compare(tc.b) != -1 || tc.b.Compare(tc.a) != 1 {
				t.Fatalf("want %+v < %+v", tc.a, tc.b)
			}
		})
	}
}

func TestPipelineDepthStencilWithoutDepthCheck(t *testing.T) {
	pso := &PipelineStateObject{DepthCheck: false, DepthWrite: true, DepthFunc: CompareFunctionLess}
	if got := pso.DepthStencil().DepthFunc; got != CompareFunctionAlways {
		t.Fatalf("depth func: got %s, want ALWAYS", got)
	}
	pso.DepthCheck = true
	if got := pso.DepthStencil().DepthFunc; got != CompareFunctionLess {
		t.Fatalf("depth func: got %s, want LESS", got)
	}
}

func TestSamplerDescriptorCompare(t *testing.T) {
	a := SamplerDescriptor{MinFilter: FilterOptionLinear, MaxAnisotropy: 1}
	b := a
	if a.Compare(b) != 0 {
		t.Fatal("identical samplers should compare equal")
	}
	b.BorderColour[3] = 1
	if a.Compare(b) != -1 {
		t.Fatal("border colour should take part in the ordering")
	}

	nan := float32(math.NaN())
	withNaN := a
	withNaN.MipLodBias = nan
	if withNaN.Compare(a) == 0 || a.Compare(withNaN) == 0 {
		t.Fatal("NaN bias compared equal to a zero bias")
	}
	if withNaN.Compare(a) != -a.Compare(withNaN) {
		t.Fatal("NaN ordering is not antisymmetric")
	}
	other := withNaN
	if withNaN.Compare(other) != 0 {
		t.Fatal("identical NaN samplers should compare equal")
	}

	negZero := a
	negZero.MinLod = float32(math.Copysign(0, -1))
	if negZero.Compare(a) == 0 {
		t.Fatal("-0 and +0 min lod compared equal")
	}
}
