package metadata

import (
	"encoding/binary"
	"fmt"
)

/** @brief Discriminant of the draw command variants. */
type CommandKind uint8

const (
	COMMAND_DRAW_CALL_INDEXED CommandKind = iota
	COMMAND_DRAW_CALL_STRIP
	COMMAND_DRAW_CALL_INDEXED_EMULATED
	COMMAND_DRAW_CALL_STRIP_EMULATED
	COMMAND_V1_DRAW_CALL_INDEXED
	COMMAND_V1_DRAW_CALL_STRIP
	MAX_COMMAND_KIND
)

func (k CommandKind) String() string {
	switch k {
	case COMMAND_DRAW_CALL_INDEXED:
		return "draw_call_indexed"
	case COMMAND_DRAW_CALL_STRIP:
		return "draw_call_strip"
	case COMMAND_DRAW_CALL_INDEXED_EMULATED:
		return "draw_call_indexed_emulated"
	case COMMAND_DRAW_CALL_STRIP_EMULATED:
		return "draw_call_strip_emulated"
	case COMMAND_V1_DRAW_CALL_INDEXED:
		return "v1_draw_call_indexed"
	case COMMAND_V1_DRAW_CALL_STRIP:
		return "v1_draw_call_strip"
	}
	return fmt.Sprintf("command_kind(%d)", uint8(k))
}

/** @brief A draw command. The set of implementations is closed to this package. */
type DrawCommand interface {
	Kind() CommandKind
	drawCommand()
}

/**
 * @brief NumDraws indexed draws whose arguments are read from the bound indirect
 * buffer at IndirectOffset, laid out as DrawIndexedIndirectArgs.
 */
type DrawCallIndexed struct {
	NumDraws       uint32
	IndirectOffset uint64
}

/** @brief Like DrawCallIndexed, with arguments laid out as DrawIndirectArgs. */
type DrawCallStrip struct {
	NumDraws       uint32
	IndirectOffset uint64
}

/** @brief Always issued as direct draws from the host side copy of the indirect buffer. */
type DrawCallIndexedEmulated struct {
	DrawCallIndexed
}

type DrawCallStripEmulated struct {
	DrawCallStrip
}

/** @brief Legacy draw over the render operation set with SetRenderOperation. */
type V1DrawCallIndexed struct {
	PrimCount        uint32
	FirstVertexIndex uint32
	BaseInstance     uint32
	InstanceCount    uint32
}

type V1DrawCallStrip struct {
	PrimCount        uint32
	FirstVertexIndex uint32
	BaseInstance     uint32
	InstanceCount    uint32
}

func (DrawCallIndexed) Kind() CommandKind         { return COMMAND_DRAW_CALL_INDEXED }
func (DrawCallStrip) Kind() CommandKind           { return COMMAND_DRAW_CALL_STRIP }
func (DrawCallIndexedEmulated) Kind() CommandKind { return COMMAND_DRAW_CALL_INDEXED_EMULATED }
func (DrawCallStripEmulated) Kind() CommandKind   { return COMMAND_DRAW_CALL_STRIP_EMULATED }
func (V1DrawCallIndexed) Kind() CommandKind       { return COMMAND_V1_DRAW_CALL_INDEXED }
func (V1DrawCallStrip) Kind() CommandKind         { return COMMAND_V1_DRAW_CALL_STRIP }

func (DrawCallIndexed) drawCommand()   {}
func (DrawCallStrip) drawCommand()     {}
func (V1DrawCallIndexed) drawCommand() {}
func (V1DrawCallStrip) drawCommand()   {}

/**
 * @brief A legacy render operation: explicit vertex/index ranges instead of a
 * vertex array object plus indirect arguments.
 */
type RenderOperation struct {
	VertexBuffers []VertexBufferBinding
	IndexBuffer   *Buffer
	IndexType     IndexType
	VertexStart   uint32
	VertexCount   uint32
	IndexStart    uint32
	IndexCount    uint32
	InstanceCount uint32
	UseIndexes    bool
}

const (
	DRAW_INDIRECT_ARGS_SIZE         = 16
	DRAW_INDEXED_INDIRECT_ARGS_SIZE = 20
)

/** @brief Indirect arguments of a non indexed draw. 16 bytes, little endian. */
type DrawIndirectArgs struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	BaseInstance  uint32
}

/** @brief Indirect arguments of an indexed draw. 20 bytes, little endian. */
type DrawIndexedIndirectArgs struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	BaseInstance  uint32
}

func (a DrawIndirectArgs) Put(b []byte) {
	_ = b[DRAW_INDIRECT_ARGS_SIZE-1]
	binary.LittleEndian.PutUint32(b[0:], a.VertexCount)
	binary.LittleEndian.PutUint32(b[4:], a.InstanceCount)
	binary.LittleEndian.PutUint32(b[8:], a.FirstVertex)
	binary.LittleEndian.PutUint32(b[12:], a.BaseInstance)
}

func DecodeDrawIndirectArgs(b []byte) DrawIndirectArgs {
	_ = b[DRAW_INDIRECT_ARGS_SIZE-1]
	return DrawIndirectArgs{
		VertexCount:   binary.LittleEndian.Uint32(b[0:]),
		InstanceCount: binary.LittleEndian.Uint32(b[4:]),
		FirstVertex:   binary.LittleEndian.Uint32(b[8:]),
		BaseInstance:  binary.LittleEndian.Uint32(b[12:]),
	}
}

func (a DrawIndexedIndirectArgs) Put(b []byte) {
	_ = b[DRAW_INDEXED_INDIRECT_ARGS_SIZE-1]
	binary.LittleEndian.PutUint32(b[0:], a.IndexCount)
	binary.LittleEndian.PutUint32(b[4:], a.InstanceCount)
	binary.LittleEndian.PutUint32(b[8:], a.FirstIndex)
	binary.LittleEndian.PutUint32(b[12:], uint32(a.BaseVertex))
	binary.LittleEndian.PutUint32(b[16:], a.BaseInstance)
}

func DecodeDrawIndexedIndirectArgs(b []byte) DrawIndexedIndirectArgs {
	_ = b[DRAW_INDEXED_INDIRECT_ARGS_SIZE-1]
	return DrawIndexedIndirectArgs{
		IndexCount:    binary.LittleEndian.Uint32(b[0:]),
		InstanceCount: binary.LittleEndian.Uint32(b[4:]),
		FirstIndex:    binary.LittleEndian.Uint32(b[8:]),
		BaseVertex:    int32(binary.LittleEndian.Uint32(b[12:])),
		BaseInstance:  binary.LittleEndian.Uint32(b[16:]),
	}
}

/**
 * @brief Indirect draw arguments. Shadow always holds a host copy of the
 * arguments; Buffer is the device copy used when hardware indirect draws are
 * available.
 */
type IndirectBuffer struct {
	Buffer *Buffer
	Shadow []byte
}

func NewIndirectBuffer(buffer *Buffer, size uint64) *IndirectBuffer {
	if buffer != nil && buffer.Size > size {
		size = buffer.Size
	}
	return &IndirectBuffer{
		Buffer: buffer,
		Shadow: make([]byte, size),
	}
}

func (ib *IndirectBuffer) WriteDraw(offset uint64, args DrawIndirectArgs) error {
	if offset+DRAW_INDIRECT_ARGS_SIZE > uint64(len(ib.Shadow)) {
		return fmt.Errorf("indirect write at %d overflows buffer of %d bytes", offset, len(ib.Shadow))
	}
	args.Put(ib.Shadow[offset:])
	ib.mirror(offset, DRAW_INDIRECT_ARGS_SIZE)
	return nil
}

func (ib *IndirectBuffer) WriteDrawIndexed(offset uint64, args DrawIndexedIndirectArgs) error {
	if offset+DRAW_INDEXED_INDIRECT_ARGS_SIZE > uint64(len(ib.Shadow)) {
		return fmt.Errorf("indirect write at %d overflows buffer of %d bytes", offset, len(ib.Shadow))
	}
	args.Put(ib.Shadow[offset:])
	ib.mirror(offset, DRAW_INDEXED_INDIRECT_ARGS_SIZE)
	return nil
}

func (ib *IndirectBuffer) mirror(offset, size uint64) {
	if ib.Buffer == nil || offset+size > uint64(len(ib.Buffer.Data)) {
		return
	}
	copy(ib.Buffer.Data[offset:offset+size], ib.Shadow[offset:offset+size])
}
