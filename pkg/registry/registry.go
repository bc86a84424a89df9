// Package registry is the read-only catalog of UDS services, negative
// response codes, and data identifiers (spec.md §2 "Service/DID registry",
// §6 "UDS service catalog" / "NRC catalog"). It is grounded on the teacher's
// own code+description map idiom for its SDO abort codes
// (pkg/sdo/common.go's AbortCodeDescriptionMap).
package registry

import "fmt"

// ServiceID is a UDS service identifier byte.
type ServiceID uint8

// The UDS service catalog the high-level API implements (spec.md §6).
const (
	DiagnosticSessionControl  ServiceID = 0x10
	ECUReset                  ServiceID = 0x11
	ClearDiagnosticInformation ServiceID = 0x14
	ReadDTCInformation        ServiceID = 0x19
	ReadDataByIdentifier      ServiceID = 0x22
	ReadMemoryByAddress       ServiceID = 0x23
	ReadScalingDataByIdentifier ServiceID = 0x24
	SecurityAccess            ServiceID = 0x27
	CommunicationControl      ServiceID = 0x28
	WriteDataByIdentifier     ServiceID = 0x2E
	RoutineControl            ServiceID = 0x31
	RequestDownload           ServiceID = 0x34
	RequestUpload             ServiceID = 0x35
	TransferData              ServiceID = 0x36
	RequestTransferExit       ServiceID = 0x37
	TesterPresent             ServiceID = 0x3E
	ControlDTCSetting         ServiceID = 0x85
	ResponseOnEvent           ServiceID = 0x86
	LinkControl               ServiceID = 0x87
)

// ServiceInfo names a catalog entry.
type ServiceInfo struct {
	ID           ServiceID
	Name         string
	HasSubFunction bool
}

var serviceCatalog = map[ServiceID]ServiceInfo{
	DiagnosticSessionControl:   {DiagnosticSessionControl, "DiagnosticSessionControl", true},
	ECUReset:                   {ECUReset, "ECUReset", true},
	ClearDiagnosticInformation: {ClearDiagnosticInformation, "ClearDiagnosticInformation", false},
	ReadDTCInformation:         {ReadDTCInformation, "ReadDTCInformation", true},
	ReadDataByIdentifier:       {ReadDataByIdentifier, "ReadDataByIdentifier", false},
	ReadMemoryByAddress:        {ReadMemoryByAddress, "ReadMemoryByAddress", false},
	ReadScalingDataByIdentifier: {ReadScalingDataByIdentifier, "ReadScalingDataByIdentifier", false},
	SecurityAccess:             {SecurityAccess, "SecurityAccess", true},
	CommunicationControl:       {CommunicationControl, "CommunicationControl", true},
	WriteDataByIdentifier:      {WriteDataByIdentifier, "WriteDataByIdentifier", false},
	RoutineControl:             {RoutineControl, "RoutineControl", true},
	RequestDownload:            {RequestDownload, "RequestDownload", false},
	RequestUpload:              {RequestUpload, "RequestUpload", false},
	TransferData:               {TransferData, "TransferData", false},
	RequestTransferExit:        {RequestTransferExit, "RequestTransferExit", false},
	TesterPresent:              {TesterPresent, "TesterPresent", true},
	ControlDTCSetting:          {ControlDTCSetting, "ControlDTCSetting", true},
	ResponseOnEvent:            {ResponseOnEvent, "ResponseOnEvent", true},
	LinkControl:                {LinkControl, "LinkControl", true},
}

// Service looks up a catalog entry by service id.
func Service(id ServiceID) (ServiceInfo, bool) {
	info, ok := serviceCatalog[id]
	return info, ok
}

// NRC is a UDS negative response code.
type NRC uint8

// The ISO 14229-1 negative-response-code catalog named in spec.md §6.
const (
	NRCServiceNotSupported                          NRC = 0x11
	NRCSubFunctionNotSupported                       NRC = 0x12
	NRCIncorrectMessageLengthOrInvalidFormat        NRC = 0x13
	NRCConditionsNotCorrect                          NRC = 0x22
	NRCRequestOutOfRange                             NRC = 0x31
	NRCSecurityAccessDenied                          NRC = 0x33
	NRCInvalidKey                                    NRC = 0x35
	NRCExceededNumberOfAttempts                      NRC = 0x36
	NRCRequestCorrectlyReceivedResponsePending       NRC = 0x78
	NRCSubFunctionNotSupportedInActiveSession        NRC = 0x7E
	NRCServiceNotSupportedInActiveSession            NRC = 0x7F
)

var nrcDescription = map[NRC]string{
	NRCServiceNotSupported:                    "serviceNotSupported",
	NRCSubFunctionNotSupported:                "sub-functionNotSupported",
	NRCIncorrectMessageLengthOrInvalidFormat:  "incorrectMessageLengthOrInvalidFormat",
	NRCConditionsNotCorrect:                   "conditionsNotCorrect",
	NRCRequestOutOfRange:                      "requestOutOfRange",
	NRCSecurityAccessDenied:                   "securityAccessDenied",
	NRCInvalidKey:                             "invalidKey",
	NRCExceededNumberOfAttempts:               "exceededNumberOfAttempts",
	NRCRequestCorrectlyReceivedResponsePending: "requestCorrectlyReceivedResponsePending",
	NRCSubFunctionNotSupportedInActiveSession: "sub-functionNotSupportedInActiveSession",
	NRCServiceNotSupportedInActiveSession:     "serviceNotSupportedInActiveSession",
}

// Describe resolves an NRC to its catalog name. Unknown NRCs are surfaced as
// an opaque byte, per spec.md §6.
func Describe(code NRC) string {
	if name, ok := nrcDescription[code]; ok {
		return name
	}
	return fmt.Sprintf("unknownNRC(0x%02X)", uint8(code))
}

// DIDInfo names a commonly used data identifier.
type DIDInfo struct {
	ID   uint16
	Name string
}

var didCatalog = map[uint16]DIDInfo{
	0xF186: {0xF186, "ActiveDiagnosticSession"},
	0xF187: {0xF187, "VehicleManufacturerSparePartNumber"},
	0xF18C: {0xF18C, "ECUSerialNumber"},
	0xF190: {0xF190, "VIN"},
	0xF195: {0xF195, "SystemSupplierECUSoftwareVersionNumber"},
	0xF1A0: {0xF1A0, "ProgrammingDate"},
}

// DID looks up a commonly used data identifier by its 16-bit value.
func DID(id uint16) (DIDInfo, bool) {
	info, ok := didCatalog[id]
	return info, ok
}
