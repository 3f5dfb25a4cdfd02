package session

import (
	"math"

	"smo-relay/internal/protocol"
)

// flipDisplacement is the distance a flipped Player packet's position is
// pushed along +Y, chosen from the target's own is_2d flag (§4.4 "Flip
// rewrite", §C "get_mario_size": 160 in 3D, 180 in 2D).
func flipDisplacement(is2D bool) float32 {
	if is2D {
		return 180.0
	}
	return 160.0
}

// flipRotation is the fixed 180° rotation about the vertical (Z, in the
// wire protocol's axis convention) axis composed onto a flipped packet's
// rotation: Rz(π) = (x=0, y=0, z=sin(π/2), w=cos(π/2)).
var flipRotation = protocol.Quaternion{X: 0, Y: 0, Z: float32(math.Sin(math.Pi / 2)), W: float32(math.Cos(math.Pi / 2))}

// applyFlip rewrites a PlayerBody in place: rotation ← rotation · Rz(π),
// position ← position + displacement·ŷ (§4.4 "Flip rewrite"). is2D is
// always the target player's own flag — both the others-flip call site
// (incoming, using the sender's own record) and the self-flip call site
// (outbound, using the viewing session's own record) read it from "self"
// in that sense (§C).
func applyFlip(body protocol.PlayerBody, is2D bool) protocol.PlayerBody {
	body.Pos = body.Pos.Add(protocol.Vector3{Y: flipDisplacement(is2D)})
	body.Rot = body.Rot.Mul(flipRotation)
	return body
}
