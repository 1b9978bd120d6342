package metadata

type LoadAction uint8

const (
	LoadActionDontCare LoadAction = iota
	LoadActionClear
	LoadActionLoad
)

type StoreAction uint8

const (
	StoreActionDontCare StoreAction = iota
	StoreActionStore
	StoreActionMultisampleResolve
	StoreActionStoreAndMultisampleResolve
	// Resolved later by the render system, e.g. once all draws are recorded.
	StoreActionStoreOrResolve
)

const MAX_COLOUR_ATTACHMENTS = 8

type ColourAttachment struct {
	Texture       *Texture
	ResolveTarget *Texture
	MipLevel      uint8
	Slice         uint16
	Load          LoadAction
	Store         StoreAction
	ClearColour   [4]float32
}

type DepthAttachment struct {
	Texture    *Texture
	Load       LoadAction
	Store      StoreAction
	ClearDepth float32
	ReadOnly   bool
}

type StencilAttachment struct {
	Texture      *Texture
	Load         LoadAction
	Store        StoreAction
	ClearStencil uint32
	ReadOnly     bool
}

/** @brief A render target configuration: attachments plus load/store/resolve actions. */
type RenderPassDescriptor struct {
	Name    string
	Colour  []ColourAttachment
	Depth   DepthAttachment
	Stencil StencilAttachment
}

type Viewport struct {
	X        float32
	Y        float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type Rect struct {
	X      int32
	Y      int32
	Width  uint32
	Height uint32
}

type attachmentKey struct {
	texture  *Texture
	resolve  *Texture
	mipLevel uint8
	slice    uint16
}

type actionKey struct {
	load  LoadAction
	store StoreAction
}

/** @brief Comparable identity of a render pass descriptor, used to key native framebuffers. */
type FramebufferKey struct {
	numColour     int
	colour        [MAX_COLOUR_ATTACHMENTS]attachmentKey
	colourActions [MAX_COLOUR_ATTACHMENTS]actionKey
	depth         *Texture
	depthActions  actionKey
	stencil       *Texture
	stencilAction actionKey
}

func (d *RenderPassDescriptor) Key() FramebufferKey {
	var k FramebufferKey
	k.numColour = len(d.Colour)
	for i := 0; i < len(d.Colour) && i < MAX_COLOUR_ATTACHMENTS; i++ {
		c := d.Colour[i]
		k.colour[i] = attachmentKey{c.Texture, c.ResolveTarget, c.MipLevel, c.Slice}
		k.colourActions[i] = actionKey{c.Load, c.Store}
	}
	k.depth = d.Depth.Texture
	k.depthActions = actionKey{d.Depth.Load, d.Depth.Store}
	k.stencil = d.Stencil.Texture
	k.stencilAction = actionKey{d.Stencil.Load, d.Stencil.Store}
	return k
}

func (d *RenderPassDescriptor) Validate() bool {
	if len(d.Colour) > MAX_COLOUR_ATTACHMENTS {
		return false
	}
	if len(d.Colour) == 0 && d.Depth.Texture == nil && d.Stencil.Texture == nil {
		return false
	}
	for _, c := range d.Colour {
		if c.Texture == nil {
			return false
		}
	}
	return true
}

// SameAttachments reports whether both descriptors render into the same textures.
func (d *RenderPassDescriptor) SameAttachments(other *RenderPassDescriptor) bool {
	if other == nil || len(d.Colour) != len(other.Colour) {
		return false
	}
	for i := range d.Colour {
		a, b := d.Colour[i], other.Colour[i]
		if a.Texture != b.Texture || a.ResolveTarget != b.ResolveTarget ||
			a.MipLevel != b.MipLevel || a.Slice != b.Slice {
			return false
		}
	}
	return d.Depth.Texture == other.Depth.Texture && d.Stencil.Texture == other.Stencil.Texture
}

// SameActions reports whether both descriptors load, clear and store the same way.
func (d *RenderPassDescriptor) SameActions(other *RenderPassDescriptor) bool {
	if other == nil || len(d.Colour) != len(other.Colour) {
		return false
	}
	for i := range d.Colour {
		a, b := d.Colour[i], other.Colour[i]
		if a.Load != b.Load || a.Store != b.Store || a.ClearColour != b.ClearColour {
			return false
		}
	}
	return d.Depth.Load == other.Depth.Load && d.Depth.Store == other.Depth.Store &&
		d.Depth.ClearDepth == other.Depth.ClearDepth &&
		d.Stencil.Load == other.Stencil.Load && d.Stencil.Store == other.Stencil.Store &&
		d.Stencil.ClearStencil == other.Stencil.ClearStencil
}

// Uses reports whether tex is one of the attachments.
func (d *RenderPassDescriptor) Uses(tex *Texture) bool {
	if tex == nil {
		return false
	}
	for _, c := range d.Colour {
		if c.Texture == tex || c.ResolveTarget == tex {
			return true
		}
	}
	return d.Depth.Texture == tex || d.Stencil.Texture == tex
}

/**
 * @brief Returns the descriptor used to reopen an interrupted pass: contents
 * written so far are loaded back instead of cleared.
 */
func (d *RenderPassDescriptor) ForResume() *RenderPassDescriptor {
	r := *d
	r.Colour = make([]ColourAttachment, len(d.Colour))
	copy(r.Colour, d.Colour)
	for i := range r.Colour {
		if r.Colour[i].Load == LoadActionClear {
			r.Colour[i].Load = LoadActionLoad
		}
	}
	if r.Depth.Load == LoadActionClear {
		r.Depth.Load = LoadActionLoad
	}
	if r.Stencil.Load == LoadActionClear {
		r.Stencil.Load = LoadActionLoad
	}
	return &r
}

/** @brief Store actions applied when an encoder closes. */
type StoreActions struct {
	Colour  []StoreAction
	Depth   StoreAction
	Stencil StoreAction
}

/**
 * @brief Returns the store actions an encoder must use when closed before its pass
 * completed: everything rendered so far has to survive until the pass resumes.
 * Without store-and-resolve support resolve attachments are only stored; the
 * resolve happens when the pass finally ends.
 */
func (d *RenderPassDescriptor) InterruptStoreActions(hasStoreAndResolve bool) StoreActions {
	actions := StoreActions{
		Colour:  make([]StoreAction, len(d.Colour)),
		Depth:   StoreActionDontCare,
		Stencil: StoreActionDontCare,
	}
	for i, c := range d.Colour {
		if c.ResolveTarget != nil && hasStoreAndResolve {
			actions.Colour[i] = StoreActionStoreAndMultisampleResolve
		} else {
			actions.Colour[i] = StoreActionStore
		}
	}
	if d.Depth.Texture != nil {
		actions.Depth = StoreActionStore
	}
	if d.Stencil.Texture != nil {
		actions.Stencil = StoreActionStore
	}
	return actions
}

// FinalStoreActions resolves StoreActionStoreOrResolve once the pass is complete.
func (d *RenderPassDescriptor) FinalStoreActions(hasStoreAndResolve bool) StoreActions {
	actions := StoreActions{
		Colour:  make([]StoreAction, len(d.Colour)),
		Depth:   resolveStore(d.Depth.Store, false, hasStoreAndResolve),
		Stencil: resolveStore(d.Stencil.Store, false, hasStoreAndResolve),
	}
	for i, c := range d.Colour {
		actions.Colour[i] = resolveStore(c.Store, c.ResolveTarget != nil, hasStoreAndResolve)
	}
	return actions
}

func resolveStore(action StoreAction, hasResolve, hasStoreAndResolve bool) StoreAction {
	switch {
	case action != StoreActionStoreOrResolve:
		return action
	case !hasResolve:
		return StoreActionStore
	case hasStoreAndResolve:
		return StoreActionStoreAndMultisampleResolve
	}
	return StoreActionMultisampleResolve
}
