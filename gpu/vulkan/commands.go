package vulkan

import (
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// remaining selects every mip level or array layer from the base onwards.
const remaining = ^uint32(0)

// The Cmd methods record into a buffer in the recording state. gpu.Commands has no error
// return, so unknown handles are logged and the command is dropped.

func (d *Device) CmdCopyBuffer(c gpu.CommandBuffer, src, dst gpu.Buffer, size uint64) {
	cmd, ok := d.lookupCmd(c)
	if !ok {
		return
	}
	from, err := d.buffers.get(src)
	if err != nil {
		d.dropped("copy-buffer", err)
		return
	}
	to, err := d.buffers.get(dst)
	if err != nil {
		d.dropped("copy-buffer", err)
		return
	}
	vk.CmdCopyBuffer(cmd, from, to, 1, []vk.BufferCopy{{Size: vk.DeviceSize(size)}})
}

func (d *Device) CmdCopyBufferToImage(c gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, extent gpu.Extent3D) {
	cmd, ok := d.lookupCmd(c)
	if !ok {
		return
	}
	from, err := d.buffers.get(src)
	if err != nil {
		d.dropped("copy-buffer-to-image", err)
		return
	}
	to, err := d.images.get(dst)
	if err != nil {
		d.dropped("copy-buffer-to-image", err)
		return
	}
	depth := extent.Depth
	if depth == 0 {
		depth = 1
	}
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspectOf(to.format),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: depth},
	}
	vk.CmdCopyBufferToImage(cmd, from, to.handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

// CmdTransitionImage moves an image between layouts with a full barrier. It orders against all
// earlier commands, which is coarse but correct for every pair of layouts.
func (d *Device) CmdTransitionImage(c gpu.CommandBuffer, i gpu.Image, from, to gpu.ImageLayout) {
	cmd, ok := d.lookupCmd(c)
	if !ok {
		return
	}
	img, err := d.images.get(i)
	if err != nil {
		d.dropped("transition", err)
		return
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit | vk.AccessMemoryReadBit),
		OldLayout:           vkLayout(from),
		NewLayout:           vkLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectOf(img.format),
			LevelCount: remaining,
			LayerCount: remaining,
		},
	}
	all := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(cmd, all, all, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (d *Device) CmdBlitImage(c gpu.CommandBuffer, src, dst gpu.Image, srcExtent, dstExtent gpu.Extent2D) {
	cmd, ok := d.lookupCmd(c)
	if !ok {
		return
	}
	from, err := d.images.get(src)
	if err != nil {
		d.dropped("blit", err)
		return
	}
	to, err := d.images.get(dst)
	if err != nil {
		d.dropped("blit", err)
		return
	}
	color := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	blit := vk.ImageBlit{
		SrcSubresource: color,
		SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(srcExtent.Width), Y: int32(srcExtent.Height), Z: 1}},
		DstSubresource: color,
		DstOffsets:     [2]vk.Offset3D{{}, {X: int32(dstExtent.Width), Y: int32(dstExtent.Height), Z: 1}},
	}
	vk.CmdBlitImage(cmd,
		from.handle, vk.ImageLayoutTransferSrcOptimal,
		to.handle, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, vk.FilterLinear)
}

func (d *Device) lookupCmd(c gpu.CommandBuffer) (vk.CommandBuffer, bool) {
	cmd, err := d.cmds.get(c)
	if err != nil {
		d.dropped("record", err)
		return nil, false
	}
	return cmd, true
}

func (d *Device) dropped(command string, err error) {
	d.log.Error("command dropped", slog.String("command", command), slog.String("error", err.Error()))
}
