package metadata

type TextureFlag int

const (
	/** @brief Indicates if the texture can be written (rendered) to. */
	TextureFlagIsWriteable TextureFlag = 0x1
	/** @brief Indicates if the texture can be bound as a UAV. */
	TextureFlagIsUav TextureFlag = 0x2
	/** @brief Indicates if the texture was created via wrapping vs traditional creation. */
	TextureFlagIsWrapped TextureFlag = 0x4
	/** @brief Indicates if the texture holds depth (and maybe stencil) data. */
	TextureFlagIsDepth TextureFlag = 0x8
)

/**
 * @brief Represents a texture. Texture storage is owned by the layer above the
 * render system; it is only referenced here.
 */
type Texture struct {
	/** @brief The unique texture identifier. */
	ID uint32
	/** @brief The texture Name. */
	Name string
	/** @brief The texture Width. */
	Width uint32
	/** @brief The texture Height. */
	Height uint32
	/** @brief Number of MSAA samples, 1 when not multisampled. */
	SampleCount uint8
	/** @brief Holds various Flags for this texture. */
	Flags TextureFlag
	/** @brief Incremented every time the texture is resized or reloaded. */
	Generation uint32
	/** @brief The native image, owned by the device layer. */
	InternalData interface{}
}

func (t *Texture) HasFlag(flag TextureFlag) bool {
	return t != nil && t.Flags&flag != 0
}
