package render

import (
	"math"
	"time"

	mgl32 "github.com/go-gl/mathgl/mgl32"
)

// FrameUniforms is the transform record recomputed every frame. The field
// order and tight mat4 packing match the std140 uniform block declared by
// the vertex shader.
type FrameUniforms struct {
	World mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

// Camera constants. The scene lives in block units (blocks are 20 units
// across), the view scale brings it down to clip-friendly range. The up
// vector is negated because the y axis points down.
const (
	fovY      = float32(math.Pi / 2)
	nearPlane = 0.01
	farPlane  = 100.0
	viewScale = 0.01
)

var (
	cameraEye    = mgl32.Vec3{0.3, 0.3, 1.0}
	cameraCenter = mgl32.Vec3{0, 0, 0}
	cameraUp     = mgl32.Vec3{0, -1, 0}
)

// ComputeUniforms builds the transform record for one frame. The world
// matrix rotates about the vertical axis by elapsed seconds (in radians),
// the view is the fixed camera composed with the view scale and shifted by
// the pan offset, and the projection uses the aspect ratio of the extent as
// it is right now. extent must not be degenerate.
func ComputeUniforms(elapsed time.Duration, extent Extent, pan mgl32.Vec2) FrameUniforms {
	angle := float32(elapsed.Seconds())
	world := mgl32.HomogRotate3DY(angle)

	view := mgl32.LookAtV(cameraEye, cameraCenter, cameraUp).
		Mul4(mgl32.Scale3D(viewScale, viewScale, viewScale))
	if pan.X() != 0 || pan.Y() != 0 {
		view = mgl32.Translate3D(pan.X(), pan.Y(), 0).Mul4(view)
	}

	proj := mgl32.Perspective(fovY, extent.AspectRatio(), nearPlane, farPlane)

	return FrameUniforms{World: world, View: view, Proj: proj}
}
