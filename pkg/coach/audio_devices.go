package coach

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
	HostAPI           string
}

// IsInput and IsOutput report which directions the device supports.
func (d AudioDevice) IsInput() bool  { return d.MaxInputChannels > 0 }
func (d AudioDevice) IsOutput() bool { return d.MaxOutputChannels > 0 }

// Capabilities returns "Input", "Output", "Input/Output" or "None".
func (d AudioDevice) Capabilities() string {
	switch {
	case d.IsInput() && d.IsOutput():
		return "Input/Output"
	case d.IsInput():
		return "Input"
	case d.IsOutput():
		return "Output"
	default:
		return "None"
	}
}

// AudioDeviceManager lists and inspects PortAudio devices.
type AudioDeviceManager struct {
	mu      sync.RWMutex
	devices []AudioDevice
	logger  *CoachLogger
}

// NewAudioDeviceManager creates a new audio device manager
func NewAudioDeviceManager() *AudioDeviceManager {
	return &AudioDeviceManager{
		devices: make([]AudioDevice, 0),
		logger:  GetGlobalLogger().WithComponent("AudioDeviceManager"),
	}
}

// Initialize initializes PortAudio and loads the device list.
func (adm *AudioDeviceManager) Initialize() error {
	adm.mu.Lock()
	defer adm.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		adm.logger.WithError(err).Error("Failed to initialize PortAudio")
		return NewMediaAcquisitionError("failed to initialize audio", err)
	}

	if err := adm.refreshDevices(); err != nil {
		adm.logger.WithError(err).Error("Failed to refresh device list")
		return NewMediaAcquisitionError("failed to list audio devices", err)
	}

	adm.logger.WithField("device_count", len(adm.devices)).Debug("Audio device manager initialized")
	return nil
}

// Cleanup releases the PortAudio reference taken by Initialize.
func (adm *AudioDeviceManager) Cleanup() {
	adm.mu.Lock()
	defer adm.mu.Unlock()

	if err := portaudio.Terminate(); err != nil {
		adm.logger.WithError(err).Error("Failed to terminate PortAudio")
	}
}

func (adm *AudioDeviceManager) refreshDevices() error {
	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		adm.logger.WithError(err).Warn("No default input device")
	}
	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		adm.logger.WithError(err).Warn("No default output device")
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return err
	}

	devices := make([]AudioDevice, 0, len(infos))
	for i, dev := range infos {
		hostAPIName := "Unknown"
		if dev.HostApi != nil {
			hostAPIName = dev.HostApi.Name
		}
		devices = append(devices, AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefaultInput:    defaultInput != nil && dev == defaultInput,
			IsDefaultOutput:   defaultOutput != nil && dev == defaultOutput,
			HostAPI:           hostAPIName,
		})
	}
	adm.devices = devices
	return nil
}

// GetDevices returns a copy of all known devices.
func (adm *AudioDeviceManager) GetDevices() []AudioDevice {
	adm.mu.RLock()
	defer adm.mu.RUnlock()

	devices := make([]AudioDevice, len(adm.devices))
	copy(devices, adm.devices)
	return devices
}

// GetInputDevices returns devices that can record
func (adm *AudioDeviceManager) GetInputDevices() []AudioDevice {
	return filterDevices(adm.GetDevices(), AudioDevice.IsInput)
}

// GetOutputDevices returns devices that can play
func (adm *AudioDeviceManager) GetOutputDevices() []AudioDevice {
	return filterDevices(adm.GetDevices(), AudioDevice.IsOutput)
}

func filterDevices(devices []AudioDevice, keep func(AudioDevice) bool) []AudioDevice {
	out := make([]AudioDevice, 0, len(devices))
	for _, d := range devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// GetDeviceByID returns the device with the given PortAudio index
func (adm *AudioDeviceManager) GetDeviceByID(id int) (*AudioDevice, error) {
	adm.mu.RLock()
	defer adm.mu.RUnlock()

	for _, device := range adm.devices {
		if device.ID == id {
			d := device
			return &d, nil
		}
	}
	return nil, fmt.Errorf("device with ID %d not found", id)
}

// ValidateDevice checks that a device can serve the requested direction and channel count.
func (adm *AudioDeviceManager) ValidateDevice(deviceID int, isInput bool, channels int, sampleRate float64) error {
	device, err := adm.GetDeviceByID(deviceID)
	if err != nil {
		return err
	}
	return validateDevice(device, isInput, channels, sampleRate, adm.logger)
}

func validateDevice(device *AudioDevice, isInput bool, channels int, sampleRate float64, logger *CoachLogger) error {
	if isInput {
		if !device.IsInput() {
			return fmt.Errorf("device '%s' is not an input device", device.Name)
		}
		if device.MaxInputChannels < channels {
			return fmt.Errorf("device '%s' supports max %d input channels, requested %d",
				device.Name, device.MaxInputChannels, channels)
		}
	} else {
		if !device.IsOutput() {
			return fmt.Errorf("device '%s' is not an output device", device.Name)
		}
		if device.MaxOutputChannels < channels {
			return fmt.Errorf("device '%s' supports max %d output channels, requested %d",
				device.Name, device.MaxOutputChannels, channels)
		}
	}

	if sampleRate > 0 && device.DefaultSampleRate > 0 {
		ratio := sampleRate / device.DefaultSampleRate
		if ratio < 0.25 || ratio > 4.0 {
			logger.WithFields(map[string]interface{}{
				"device_name":           device.Name,
				"device_sample_rate":    device.DefaultSampleRate,
				"requested_sample_rate": sampleRate,
			}).Warn("Sample rate significantly different from device default")
		}
	}
	return nil
}

// DeviceInfo returns formatted device information
func (d AudioDevice) DeviceInfo() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Device: %s\n", d.Name)
	fmt.Fprintf(&sb, "  ID: %d\n", d.ID)
	fmt.Fprintf(&sb, "  Host API: %s\n", d.HostAPI)
	fmt.Fprintf(&sb, "  Input Channels: %d\n", d.MaxInputChannels)
	fmt.Fprintf(&sb, "  Output Channels: %d\n", d.MaxOutputChannels)
	fmt.Fprintf(&sb, "  Default Sample Rate: %.1f Hz\n", d.DefaultSampleRate)
	fmt.Fprintf(&sb, "  Default Input: %v\n", d.IsDefaultInput)
	fmt.Fprintf(&sb, "  Default Output: %v\n", d.IsDefaultOutput)
	fmt.Fprintf(&sb, "  Capabilities: %s\n", d.Capabilities())
	return sb.String()
}

// DeviceTestResult summarizes a short microphone recording.
type DeviceTestResult struct {
	Frames   int64
	Duration time.Duration
	AvgRMS   float32
	PeakRMS  float32
}

// TestInputDevice records from deviceID for duration through the same capture
// path a coaching session uses and reports the levels it saw.
func (adm *AudioDeviceManager) TestInputDevice(deviceID int, audioConfig *AudioConfig, duration time.Duration) (*DeviceTestResult, error) {
	device, err := adm.GetDeviceByID(deviceID)
	if err != nil {
		return nil, err
	}
	if err := validateDevice(device, true, 1, float64(audioConfig.InputSampleRate), adm.logger); err != nil {
		return nil, err
	}

	id := deviceID
	backend := &PortAudioBackend{inputDeviceID: &id, logger: adm.logger}
	input, err := backend.OpenInput(audioConfig.InputSampleRate, audioConfig.FrameSize)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		sum    float64
		peak   float32
		frames int64
	)
	capture := NewCapturePipeline(audioConfig.InputSampleRate, adm.logger)
	err = capture.Start(input, func(chunk AudioChunk) {
		buf, decodeErr := DecodeInt16ToAudioBuffer(chunk.Data, chunk.SampleRate, 1)
		if decodeErr != nil {
			return
		}
		rms := CalculateRMS(buf.ChannelData(0))
		mu.Lock()
		frames++
		sum += float64(rms)
		if rms > peak {
			peak = rms
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	time.Sleep(duration)
	if err := capture.Stop(); err != nil {
		adm.logger.WithError(err).Warn("Failed to stop test capture")
	}

	mu.Lock()
	defer mu.Unlock()
	result := &DeviceTestResult{Frames: frames, Duration: duration, PeakRMS: peak}
	if frames > 0 {
		result.AvgRMS = float32(sum / float64(frames))
	}

	adm.logger.WithFields(map[string]interface{}{
		"device_name": device.Name,
		"frames":      frames,
		"avg_rms":     result.AvgRMS,
	}).Info("Device test completed")
	return result, nil
}

// Global device manager instance
var globalDeviceManager *AudioDeviceManager

// GetGlobalDeviceManager returns the shared device manager
func GetGlobalDeviceManager() *AudioDeviceManager {
	if globalDeviceManager == nil {
		globalDeviceManager = NewAudioDeviceManager()
	}
	return globalDeviceManager
}

// GetAllAudioDevices initializes PortAudio just long enough to list devices.
func GetAllAudioDevices() ([]AudioDevice, error) {
	dm := GetGlobalDeviceManager()
	if err := dm.Initialize(); err != nil {
		return nil, err
	}
	defer dm.Cleanup()
	return dm.GetDevices(), nil
}
