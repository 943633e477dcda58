package types

// OutputFormat is what the transport asks of captured frames. Zero values
// mean "no constraint".
type OutputFormat struct {
	MaxFPS        int `json:"max_fps" yaml:"max_fps"`
	MaxWidth      int `json:"max_width" yaml:"max_width"`
	MaxHeight     int `json:"max_height" yaml:"max_height"`
	MaxPixelCount int `json:"max_pixel_count" yaml:"max_pixel_count"`
	Alignment     int `json:"alignment" yaml:"alignment"`
}

// FrameGeometry is the admission decision for a single frame. The crop
// rectangle lies inside the native frame.
type FrameGeometry struct {
	NativeWidth  int  `json:"native_width"`
	NativeHeight int  `json:"native_height"`
	Admit        bool `json:"admit"`
	OutWidth     int  `json:"out_width"`
	OutHeight    int  `json:"out_height"`
	CropX        int  `json:"crop_x"`
	CropY        int  `json:"crop_y"`
	CropWidth    int  `json:"crop_width"`
	CropHeight   int  `json:"crop_height"`
}
