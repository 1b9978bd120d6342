package metadata

type BufferUsage uint32

const (
	BUFFER_USAGE_VERTEX   BufferUsage = 0x1
	BUFFER_USAGE_INDEX    BufferUsage = 0x2
	BUFFER_USAGE_UNIFORM  BufferUsage = 0x4
	BUFFER_USAGE_STORAGE  BufferUsage = 0x8
	BUFFER_USAGE_INDIRECT BufferUsage = 0x10
)

/** @brief A device buffer. Data is the host visible mapping, nil when not mapped. */
type Buffer struct {
	Name  string
	Size  uint64
	Usage BufferUsage
	Data  []byte
	/** @brief The native buffer, owned by the device layer. */
	InternalData interface{}
}

type IndexType uint8

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

func (t IndexType) Size() uint64 {
	if t == IndexTypeUint16 {
		return 2
	}
	return 4
}

type VertexBufferBinding struct {
	Buffer *Buffer
	Offset uint64
	Stride uint64
	// Per instance data. Offset by baseInstance*Stride when the device cannot
	// apply a base instance itself.
	PerInstance bool
}

/** @brief Vertex and index buffers of a mesh, owned by the mesh storage layer. */
type VertexArrayObject struct {
	ID            uint32
	VertexBuffers []VertexBufferBinding
	IndexBuffer   *Buffer
	IndexType     IndexType
}

/** @brief Unit of work for uav/buffer bindings. */
type BufferSlice struct {
	Buffer *Buffer
	Offset uint64
	Size   uint64
}
