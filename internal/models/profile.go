package models

import "github.com/go-playground/validator/v10"

// ProfileSelectors are the CSS selectors a vendor profile uses to drive
// the login page. OtpInputs and PinInputs list one selector per digit box
// for vendors that split codes across inputs; a single-element list means
// one field takes the whole code.
type ProfileSelectors struct {
	IdentifierInput    string   `yaml:"identifier_input" json:"identifierInput" validate:"required"`
	SecretInput        string   `yaml:"secret_input" json:"secretInput"`
	ProceedButton      string   `yaml:"proceed_button" json:"proceedButton" validate:"required"`
	OtpPrompt          string   `yaml:"otp_prompt" json:"otpPrompt" validate:"required"`
	OtpInputs          []string `yaml:"otp_inputs" json:"otpInputs" validate:"required,min=1"`
	OtpVerifyButton    string   `yaml:"otp_verify_button" json:"otpVerifyButton" validate:"required"`
	PinInputs          []string `yaml:"pin_inputs" json:"pinInputs"`
	PinSubmitButton    string   `yaml:"pin_submit_button" json:"pinSubmitButton"`
	SuccessSelector    string   `yaml:"success_selector" json:"successSelector"`
	SuccessURLFragment string   `yaml:"success_url_fragment" json:"successUrlFragment"`
}

// VendorProfile describes how to log in to one vendor and what the
// extracted token dispatch should report as its source.
type VendorProfile struct {
	Name         string           `yaml:"name" json:"name" validate:"required"`
	LoginURL     string           `yaml:"login_url" json:"loginUrl" validate:"required,url"`
	SourceTag    string           `yaml:"source_tag" json:"sourceTag" validate:"required"`
	OtpLength    int              `yaml:"otp_length" json:"otpLength" validate:"min=1,max=10"`
	TokenURLKeys []string         `yaml:"token_url_keys" json:"tokenUrlKeys"` // Query params checked for the URL fallback tier
	Selectors    ProfileSelectors `yaml:"selectors" json:"selectors"`
}

// Validate validates the profile structure
func (p *VendorProfile) Validate() error {
	validate := validator.New()
	return validate.Struct(p)
}

// HasPinStep reports whether the vendor asks for a pin after OTP
// verification.
func (p *VendorProfile) HasPinStep() bool {
	return len(p.Selectors.PinInputs) > 0 && p.Selectors.PinSubmitButton != ""
}
