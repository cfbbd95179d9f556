package technique

import lin "github.com/xlab/linmath"

// vulkanClip maps GL clip space onto Vulkan's: Y points down and depth runs [0, 1] instead of
// [-1, 1]. Columns are stored first, as linmath does.
var vulkanClip = lin.Mat4x4{
	{1, 0, 0, 0},
	{0, -1, 0, 0},
	{0, 0, 0.5, 0},
	{0, 0, 0.5, 1},
}

// VulkanProjectionMat converts an OpenGL style projection matrix to Vulkan style.
//
// linmath outputs projection matrices in GL style clip space, so the result is the fixup matrix
// times proj.
func VulkanProjectionMat(m *lin.Mat4x4, proj *lin.Mat4x4) {
	m.Mult(&vulkanClip, proj)
}
