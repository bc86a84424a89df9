package uds

import (
	"encoding/binary"
	"time"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
)

func u8(v uint8) *uint8 { return &v }

// DiagnosticSessionControl (0x10).
func (s *Session) DiagnosticSessionControl(sessionType uint8, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.DiagnosticSessionControl,
		SubFunction: u8(sessionType),
		Timeout:     timeout,
	})
}

// ECUReset (0x11).
func (s *Session) ECUReset(resetType uint8, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.ECUReset,
		SubFunction: u8(resetType),
		Timeout:     timeout,
	})
}

// ClearDiagnosticInformation (0x14). groupOfDTC is a 3-byte mask.
func (s *Session) ClearDiagnosticInformation(groupOfDTC [3]byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID: registry.ClearDiagnosticInformation,
		Payload:   groupOfDTC[:],
		Timeout:   timeout,
	})
}

// ReadDTCInformation (0x19).
func (s *Session) ReadDTCInformation(subFunction uint8, payload []byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.ReadDTCInformation,
		SubFunction: u8(subFunction),
		Payload:     payload,
		Timeout:     timeout,
	})
}

// ReadDataByIdentifier (0x22). Returns the payload with the echoed DID
// already stripped, as in spec.md §8 scenario 1.
func (s *Session) ReadDataByIdentifier(did uint16, timeout time.Duration) ([]byte, Response, error) {
	var didBytes [2]byte
	binary.BigEndian.PutUint16(didBytes[:], did)
	resp, err := s.SendRequest(Request{
		ServiceID: registry.ReadDataByIdentifier,
		Payload:   didBytes[:],
		Timeout:   timeout,
	})
	if err != nil || !resp.IsPositive() {
		return nil, resp, err
	}
	if len(resp.Payload) < 2 {
		return nil, resp, ErrMalformed
	}
	return resp.Payload[2:], resp, nil
}

// ReadMemoryByAddress (0x23). addressAndLengthFormat/address/size are
// encoded by the caller per the ALFID convention; this wrapper concatenates
// them verbatim as the request payload.
func (s *Session) ReadMemoryByAddress(addressAndLengthFormat byte, address []byte, size []byte, timeout time.Duration) (Response, error) {
	payload := append([]byte{addressAndLengthFormat}, address...)
	payload = append(payload, size...)
	return s.SendRequest(Request{ServiceID: registry.ReadMemoryByAddress, Payload: payload, Timeout: timeout})
}

// ReadScalingDataByIdentifier (0x24).
func (s *Session) ReadScalingDataByIdentifier(did uint16, timeout time.Duration) (Response, error) {
	var didBytes [2]byte
	binary.BigEndian.PutUint16(didBytes[:], did)
	return s.SendRequest(Request{ServiceID: registry.ReadScalingDataByIdentifier, Payload: didBytes[:], Timeout: timeout})
}

// SecurityAccess (0x27). On an odd sub-function the returned seed is in
// resp.Payload; on an even sub-function a positive response advances
// SecurityLevel, handled by applyStateSideEffects.
func (s *Session) SecurityAccess(subFunction uint8, keyOrNothing []byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.SecurityAccess,
		SubFunction: u8(subFunction),
		Payload:     keyOrNothing,
		Timeout:     timeout,
	})
}

// CommunicationControl (0x28).
func (s *Session) CommunicationControl(controlType uint8, communicationType byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.CommunicationControl,
		SubFunction: u8(controlType),
		Payload:     []byte{communicationType},
		Timeout:     timeout,
	})
}

// TesterPresent (0x3E). When suppress is true no response is awaited.
func (s *Session) TesterPresent(suppress bool, timeout time.Duration) (Response, error) {
	sf := uint8(0x00)
	if suppress {
		return Response{}, s.SendAndForget(Request{ServiceID: registry.TesterPresent, SubFunction: &sf})
	}
	return s.SendRequest(Request{ServiceID: registry.TesterPresent, SubFunction: &sf, Timeout: timeout})
}

// WriteDataByIdentifier (0x2E).
func (s *Session) WriteDataByIdentifier(did uint16, data []byte, timeout time.Duration) (Response, error) {
	var didBytes [2]byte
	binary.BigEndian.PutUint16(didBytes[:], did)
	return s.SendRequest(Request{
		ServiceID: registry.WriteDataByIdentifier,
		Payload:   append(didBytes[:], data...),
		Timeout:   timeout,
	})
}

// RoutineControl (0x31).
func (s *Session) RoutineControl(controlType uint8, routineID uint16, option []byte, timeout time.Duration) (Response, error) {
	var ridBytes [2]byte
	binary.BigEndian.PutUint16(ridBytes[:], routineID)
	return s.SendRequest(Request{
		ServiceID:   registry.RoutineControl,
		SubFunction: u8(controlType),
		Payload:     append(ridBytes[:], option...),
		Timeout:     timeout,
	})
}

// RequestDownload (0x34).
func (s *Session) RequestDownload(dataFormatID byte, addressAndLengthFormat byte, address []byte, size []byte, timeout time.Duration) (Response, error) {
	payload := append([]byte{dataFormatID, addressAndLengthFormat}, address...)
	payload = append(payload, size...)
	return s.SendRequest(Request{ServiceID: registry.RequestDownload, Payload: payload, Timeout: timeout})
}

// RequestUpload (0x35).
func (s *Session) RequestUpload(dataFormatID byte, addressAndLengthFormat byte, address []byte, size []byte, timeout time.Duration) (Response, error) {
	payload := append([]byte{dataFormatID, addressAndLengthFormat}, address...)
	payload = append(payload, size...)
	return s.SendRequest(Request{ServiceID: registry.RequestUpload, Payload: payload, Timeout: timeout})
}

// TransferData (0x36).
func (s *Session) TransferData(blockSequenceCounter byte, data []byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID: registry.TransferData,
		Payload:   append([]byte{blockSequenceCounter}, data...),
		Timeout:   timeout,
	})
}

// RequestTransferExit (0x37).
func (s *Session) RequestTransferExit(transferRequestParameter []byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{ServiceID: registry.RequestTransferExit, Payload: transferRequestParameter, Timeout: timeout})
}

// ControlDTCSetting (0x85).
func (s *Session) ControlDTCSetting(setting uint8, option []byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.ControlDTCSetting,
		SubFunction: u8(setting),
		Payload:     option,
		Timeout:     timeout,
	})
}

// ResponseOnEvent (0x86).
func (s *Session) ResponseOnEvent(subFunction uint8, payload []byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.ResponseOnEvent,
		SubFunction: u8(subFunction),
		Payload:     payload,
		Timeout:     timeout,
	})
}

// LinkControl (0x87).
func (s *Session) LinkControl(subFunction uint8, payload []byte, timeout time.Duration) (Response, error) {
	return s.SendRequest(Request{
		ServiceID:   registry.LinkControl,
		SubFunction: u8(subFunction),
		Payload:     payload,
		Timeout:     timeout,
	})
}
