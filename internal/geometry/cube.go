// Package geometry holds the static cube mesh tables and the instance-offset
// grid used to lay blocks out in the world. All tables are built once and
// are read-only afterwards.
package geometry

import (
	mgl32 "github.com/go-gl/mathgl/mgl32"
)

// HalfExtent is half the edge length of one block, in world units.
const HalfExtent = float32(10.0)

// Axes: x to the right, y down, z inwards.

// Vertex is one corner position of the cube mesh.
type Vertex struct {
	Position mgl32.Vec3
}

// Normal is the face normal paired with one vertex slot.
type Normal struct {
	Normal mgl32.Vec3
}

// TexCoord is the texture coordinate paired with one vertex slot.
type TexCoord struct {
	UV mgl32.Vec2
}

// InstanceOffset is the world-space translation of one rendered block.
type InstanceOffset struct {
	Offset mgl32.Vec3
}

// Mesh bundles the per-vertex streams and the index stream of the block cube.
type Mesh struct {
	Vertices  []Vertex
	Normals   []Normal
	TexCoords []TexCoord
	Indices   []uint16
}

var (
	normalTop    = Normal{Normal: mgl32.Vec3{0, -1, 0}}
	normalBottom = Normal{Normal: mgl32.Vec3{0, 1, 0}}
	normalLeft   = Normal{Normal: mgl32.Vec3{-1, 0, 0}}
	normalRight  = Normal{Normal: mgl32.Vec3{1, 0, 0}}
	normalFront  = Normal{Normal: mgl32.Vec3{0, 0, -1}}
	normalBack   = Normal{Normal: mgl32.Vec3{0, 0, 1}}
)

// corners lists the eight cube corners. Each corner is emitted three times in
// the vertex stream, once per incident face axis: slot 3*c+0 carries the
// x-axis face normal, 3*c+1 the y-axis one and 3*c+2 the z-axis one. The
// index table below selects face membership through those residues.
var corners = []mgl32.Vec3{
	{-HalfExtent, -HalfExtent, -HalfExtent},
	{HalfExtent, -HalfExtent, -HalfExtent},
	{HalfExtent, HalfExtent, -HalfExtent},
	{-HalfExtent, HalfExtent, -HalfExtent},
	{-HalfExtent, -HalfExtent, HalfExtent},
	{HalfExtent, -HalfExtent, HalfExtent},
	{HalfExtent, HalfExtent, HalfExtent},
	{-HalfExtent, HalfExtent, HalfExtent},
}

// cornerNormals gives the x/y/z face normals of each corner, in slot order.
var cornerNormals = [][3]Normal{
	{normalLeft, normalTop, normalFront},
	{normalRight, normalTop, normalFront},
	{normalRight, normalBottom, normalFront},
	{normalLeft, normalBottom, normalFront},
	{normalLeft, normalTop, normalBack},
	{normalRight, normalTop, normalBack},
	{normalRight, normalBottom, normalBack},
	{normalLeft, normalBottom, normalBack},
}

// cornerTexCoords gives the texture coordinate of each corner slot, again in
// x/y/z face order.
var cornerTexCoords = [][3]mgl32.Vec2{
	{{1, 0}, {0, 0}, {0, 0}},
	{{0, 0}, {0, 0}, {1, 0}},
	{{0, 1}, {1, 0}, {1, 1}},
	{{1, 1}, {0, 0}, {0, 1}},
	{{0, 0}, {0, 0}, {1, 0}},
	{{1, 0}, {0, 0}, {0, 0}},
	{{1, 1}, {0, 0}, {0, 1}},
	{{0, 1}, {1, 0}, {1, 1}},
}

// cubeIndices is the complete six-face index table, two triangles per face.
// Entries are corner*3+residue where the residue picks the slot whose normal
// faces the triangle's axis. Every triangle winds counter-clockwise when
// viewed from outside the cube: (p1-p0)x(p2-p0) points along the outward
// face normal. The pipeline's front-face setting depends on this.
var cubeIndices = []uint16{
	0*3 + 2, 3*3 + 2, 2*3 + 2, 2*3 + 2, 1*3 + 2, 0*3 + 2, // front
	4*3 + 2, 5*3 + 2, 6*3 + 2, 6*3 + 2, 7*3 + 2, 4*3 + 2, // back
	0 * 3, 4 * 3, 7 * 3, 7 * 3, 3 * 3, 0 * 3, // left
	1 * 3, 2 * 3, 6 * 3, 6 * 3, 5 * 3, 1 * 3, // right
	0*3 + 1, 1*3 + 1, 5*3 + 1, 5*3 + 1, 4*3 + 1, 0*3 + 1, // top
	3*3 + 1, 7*3 + 1, 6*3 + 1, 6*3 + 1, 2*3 + 1, 3*3 + 1, // bottom
}

// Cube builds the block mesh: 24 vertex slots (8 corners, one slot per
// incident face axis) and 36 indices covering all six faces.
func Cube() Mesh {
	m := Mesh{
		Vertices:  make([]Vertex, 0, len(corners)*3),
		Normals:   make([]Normal, 0, len(corners)*3),
		TexCoords: make([]TexCoord, 0, len(corners)*3),
		Indices:   append([]uint16(nil), cubeIndices...),
	}
	for c, pos := range corners {
		for axis := 0; axis < 3; axis++ {
			m.Vertices = append(m.Vertices, Vertex{Position: pos})
			m.Normals = append(m.Normals, cornerNormals[c][axis])
			m.TexCoords = append(m.TexCoords, TexCoord{UV: cornerTexCoords[c][axis]})
		}
	}
	return m
}

// Grid returns nx*ny*nz instance offsets laid out on a regular lattice with
// the given spacing. A single block is Grid(1, 1, 1, 0).
func Grid(nx, ny, nz int, spacing float32) []InstanceOffset {
	offsets := make([]InstanceOffset, 0, nx*ny*nz)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				offsets = append(offsets, InstanceOffset{
					Offset: mgl32.Vec3{
						float32(x) * spacing,
						float32(y) * spacing,
						float32(z) * spacing,
					},
				})
			}
		}
	}
	return offsets
}
