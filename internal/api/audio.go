package api

import (
	"net/http"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Devices.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to enumerate capture devices")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"devices":       devices,
		"current_index": s.deps.State.AudioDeviceIndex(),
	})
}

// DeviceSelect is the PUT /audio/device body.
type DeviceSelect struct {
	DeviceIndex int `json:"device_index"`
}

func (s *Server) handlePutDevice(w http.ResponseWriter, r *http.Request) {
	var sel DeviceSelect
	if err := DecodeJSON(r, &sel); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Selection must name a device that exists right now.
	devices, err := s.deps.Devices.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to enumerate capture devices")
		return
	}
	found := false
	for _, d := range devices {
		if d.Index == sel.DeviceIndex {
			found = true
			break
		}
	}
	if !found {
		WriteError(w, http.StatusBadRequest, "no capture device with that index")
		return
	}

	if err := s.deps.State.SetAudioDeviceIndex(sel.DeviceIndex, "api", "device selected via PUT /audio/device"); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "device_index": sel.DeviceIndex})
}
