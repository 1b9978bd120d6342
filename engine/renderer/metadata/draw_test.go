package metadata

import (
	"bytes"
	"testing"
)

func TestDrawIndexedIndirectArgsLayout(t *testing.T) {
	args := DrawIndexedIndirectArgs{
		IndexCount:    0x01020304,
		InstanceCount: 2,
		FirstIndex:    3,
		BaseVertex:    -1,
		BaseInstance:  5,
	}
	b := make([]byte, DRAW_INDEXED_INDIRECT_ARGS_SIZE)
	args.Put(b)
	want := []byte{
		0x04, 0x03, 0x02, 0x01,
		2, 0, 0, 0,
		3, 0, 0, 0,
		0xff, 0xff, 0xff, 0xff,
		5, 0, 0, 0,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("layout: got % x, want % x", b, want)
	}
	if got := DecodeDrawIndexedIndirectArgs(b); got != args {
		t.Fatalf("decode: got %+v, want %+v", got, args)
	}
}

func TestIndirectBufferMirrorsDeviceCopy(t *testing.T) {
	dev := &Buffer{Size: 64, Data: make([]byte, 64)}
	ib := NewIndirectBuffer(dev, 32)
	if len(ib.Shadow) != 64 {
		t.Fatalf("shadow size: got %d, want 64", len(ib.Shadow))
	}
	args := DrawIndirectArgs{VertexCount: 3, InstanceCount: 1, FirstVertex: 6}
	if err := ib.WriteDraw(16, args); err != nil {
		t.Fatal(err)
	}
	if got := DecodeDrawIndirectArgs(dev.Data[16:]); got != args {
		t.Fatalf("device copy: got %+v, want %+v", got, args)
	}
	if err := ib.WriteDraw(56, args); err == nil {
		t.Fatal("write past the end should fail")
	}
}

func TestRenderPassForResume(t *testing.T) {
	colour := &Texture{Name: "colour"}
	depth := &Texture{Name: "depth", Flags: TextureFlagIsDepth}
	desc := &RenderPassDescriptor{
		Colour: []ColourAttachment{{Texture: colour, Load: LoadActionClear, Store: StoreActionStoreOrResolve}},
		Depth:  DepthAttachment{Texture: depth, Load: LoadActionClear, Store: StoreActionDontCare},
	}
	resumed := desc.ForResume()
	if !resumed.SameAttachments(desc) {
		t.Fatal("resume descriptor must target the same attachments")
	}
	if resumed.Colour[0].Load != LoadActionLoad || resumed.Depth.Load != LoadActionLoad {
		t.Fatalf("resume must load previous contents: %+v", resumed)
	}
	if desc.Colour[0].Load != LoadActionClear {
		t.Fatal("ForResume must not modify the original descriptor")
	}
	if desc.SameActions(resumed) {
		t.Fatal("load actions differ, SameActions must be false")
	}

	interrupted := desc.InterruptStoreActions(true)
	if interrupted.Colour[0] != StoreActionStore || interrupted.Depth != StoreActionStore {
		t.Fatalf("interrupt store actions: %+v", interrupted)
	}
	final := desc.FinalStoreActions(true)
	if final.Colour[0] != StoreActionStore || final.Depth != StoreActionDontCare {
		t.Fatalf("final store actions: %+v", final)
	}
}

func TestFinalStoreActionsResolve(t *testing.T) {
	desc := &RenderPassDescriptor{
		Colour: []ColourAttachment{{
			Texture:       &Texture{SampleCount: 4},
			ResolveTarget: &Texture{},
			Store:         StoreActionStoreOrResolve,
		}},
	}
	if got := desc.FinalStoreActions(true).Colour[0]; got != StoreActionStoreAndMultisampleResolve {
		t.Fatalf("with store and resolve: got %d", got)
	}
	if got := desc.FinalStoreActions(false).Colour[0]; got != StoreActionMultisampleResolve {
		t.Fatalf("without store and resolve: got %d", got)
	}
}

func TestInterruptStoreActionsResolve(t *testing.T) {
	desc := &RenderPassDescriptor{
		Colour: []ColourAttachment{{
			Texture:       &Texture{SampleCount: 4},
			ResolveTarget: &Texture{},
			Store:         StoreActionStoreOrResolve,
		}},
	}
	if got := desc.InterruptStoreActions(true).Colour[0]; got != StoreActionStoreAndMultisampleResolve {
		t.Fatalf("with store and resolve: got %d", got)
	}
	if got := desc.InterruptStoreActions(false).Colour[0]; got != StoreActionStore {
		t.Fatalf("without store and resolve: got %d", got)
	}
}
